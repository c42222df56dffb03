package context

import "testing"

func TestStartSpanAndChild(t *testing.T) {
	c := New()
	root := c.StartSpan()
	if c.Current() != root {
		t.Fatalf("Current() = %v, want root %v", c.Current(), root)
	}

	child := c.StartChildSpan()
	if c.Current() != child {
		t.Fatalf("Current() = %v, want child %v", c.Current(), child)
	}

	childSpan, ok := c.Arena().Get(child)
	if !ok {
		t.Fatalf("child span missing from arena")
	}
	if childSpan.Parent != root {
		t.Errorf("child.Parent = %v, want root %v", childSpan.Parent, root)
	}

	rootSpan, _ := c.Arena().Get(root)
	if childSpan.TraceId != rootSpan.TraceId {
		t.Errorf("child should inherit parent's trace id")
	}
}

func TestFinishSpanPops(t *testing.T) {
	c := New()
	root := c.StartSpan()
	c.StartChildSpan()

	c.FinishSpan()
	if c.Current() != root {
		t.Errorf("after FinishSpan, Current() = %v, want root %v", c.Current(), root)
	}

	c.FinishSpan()
	if c.Current() != NoSpan {
		t.Errorf("after popping the last span, Current() should be NoSpan, got %v", c.Current())
	}

	c.FinishSpan() // no-op on empty stack, must not panic
}

func TestAttributeWalksParentChain(t *testing.T) {
	c := New()
	root := c.StartSpan()
	c.SetAttribute("region", "us-east")

	child := c.StartChildSpan()
	c.SetAttribute("worker", "w1")

	if v, ok := c.Attribute(child, "worker"); !ok || v != "w1" {
		t.Errorf("Attribute(child, worker) = %q, %v", v, ok)
	}
	if v, ok := c.Attribute(child, "region"); !ok || v != "us-east" {
		t.Errorf("Attribute(child, region) should walk up to parent: got %q, %v", v, ok)
	}
	if _, ok := c.Attribute(root, "worker"); ok {
		t.Errorf("root should not see child's attribute")
	}
	_ = root
}

func TestAttributeWalksLinkedContext(t *testing.T) {
	c := New()
	linked := c.StartSpan()
	c.SetAttribute("trace_origin", "upstream")
	c.FinishSpan()

	current := c.StartSpan()
	c.LinkSpan(linked)

	if v, ok := c.Attribute(current, "trace_origin"); !ok || v != "upstream" {
		t.Errorf("Attribute should fall through to linked context: got %q, %v", v, ok)
	}
}

func TestAttributeChainCollectsAllAncestors(t *testing.T) {
	c := New()
	c.StartSpan()
	c.SetAttribute("tag", "root")
	c.StartChildSpan()
	c.SetAttribute("tag", "mid")
	leaf := c.StartChildSpan()
	c.SetAttribute("tag", "leaf")

	chain := c.AttributeChain(leaf, "tag")
	want := []string{"leaf", "mid", "root"}
	if len(chain) != len(want) {
		t.Fatalf("AttributeChain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("AttributeChain[%d] = %q, want %q", i, chain[i], want[i])
		}
	}
}

func TestCloneAsInheritedStackIsIndependent(t *testing.T) {
	c := New()
	c.StartSpan()
	clone := c.CloneAsInheritedStack()

	c.StartChildSpan()
	if clone.Current() == c.Current() {
		t.Errorf("clone's stack should not observe the original's later mutation")
	}
}

func TestAdoptExternalParent(t *testing.T) {
	c := New()
	trace := TraceId{1, 2, 3}
	idx := c.AdoptExternalParent(trace, SpanId(42))

	span, ok := c.Arena().Get(idx)
	if !ok {
		t.Fatalf("span missing from arena")
	}
	if span.Kind != ExternalParent {
		t.Errorf("span.Kind = %v, want ExternalParent", span.Kind)
	}
	if span.TraceId != trace {
		t.Errorf("span.TraceId mismatch")
	}
}
