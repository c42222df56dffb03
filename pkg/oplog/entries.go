package oplog

// Tag discriminates OplogEntry variants. Tag numbers are never
// repurposed; new variants occupy new tags so the binary layout stays
// cross-version compatible (§6).
type Tag uint8

const (
	TagCreate Tag = iota + 1
	TagImportedFunctionInvoked
	TagExportedFunctionInvoked
	TagExportedFunctionCompleted
	TagSuspend
	TagInterrupted
	TagExited
	TagError
	TagNoOp
	TagJump
	TagChangeRetryPolicy
	TagBeginAtomicRegion
	TagEndAtomicRegion
	TagBeginRemoteWrite
	TagEndRemoteWrite
	TagPendingWorkerInvocation
	TagPendingUpdate
	TagSuccessfulUpdate
	TagFailedUpdate
	TagGrowMemory
	TagCreateResource
	TagDropResource
	TagDescribeResource
	TagLog
	TagRestart
)

// Entry is the sealed tagged-union interface every oplog entry
// satisfies (§3). Each concrete type also carries a Timestamp field,
// read via EntryTimestamp to avoid a reflection-based accessor.
type Entry interface {
	Tag() Tag
}

// EntryTimestamp extracts the timestamp common to every entry variant.
func EntryTimestamp(e Entry) Timestamp {
	switch v := e.(type) {
	case *Create:
		return v.Timestamp
	case *ImportedFunctionInvoked:
		return v.Timestamp
	case *ExportedFunctionInvoked:
		return v.Timestamp
	case *ExportedFunctionCompleted:
		return v.Timestamp
	case *Suspend:
		return v.Timestamp
	case *Interrupted:
		return v.Timestamp
	case *Exited:
		return v.Timestamp
	case *Error:
		return v.Timestamp
	case *NoOp:
		return v.Timestamp
	case *Jump:
		return v.Timestamp
	case *ChangeRetryPolicy:
		return v.Timestamp
	case *BeginAtomicRegion:
		return v.Timestamp
	case *EndAtomicRegion:
		return v.Timestamp
	case *BeginRemoteWrite:
		return v.Timestamp
	case *EndRemoteWrite:
		return v.Timestamp
	case *PendingWorkerInvocation:
		return v.Timestamp
	case *PendingUpdate:
		return v.Timestamp
	case *SuccessfulUpdate:
		return v.Timestamp
	case *FailedUpdate:
		return v.Timestamp
	case *GrowMemory:
		return v.Timestamp
	case *CreateResource:
		return v.Timestamp
	case *DropResource:
		return v.Timestamp
	case *DescribeResource:
		return v.Timestamp
	case *Log:
		return v.Timestamp
	case *Restart:
		return v.Timestamp
	default:
		return Timestamp{}
	}
}

// Create is always entry 1 (§3 invariant).
type Create struct {
	Timestamp               Timestamp
	ComponentVersion        uint64
	Args                    []string
	Env                     map[string]string
	AccountId               string
	Parent                  *WorkerId
	ComponentSize           int64
	InitialLinearMemorySize int64
}

func (*Create) Tag() Tag { return TagCreate }

// ImportedFunctionInvoked records a completed nondeterministic host call.
type ImportedFunctionInvoked struct {
	Timestamp      Timestamp
	FunctionName   string
	Response       PayloadRef
	DurabilityKind DurabilityKind
}

func (*ImportedFunctionInvoked) Tag() Tag { return TagImportedFunctionInvoked }

// ExportedFunctionInvoked records the start of a new invocation.
type ExportedFunctionInvoked struct {
	Timestamp         Timestamp
	FunctionName      string
	Request           PayloadRef
	IdempotencyKey    IdempotencyKey
	InvocationContext []byte // serialized span-arena snapshot, see pkg/context
}

func (*ExportedFunctionInvoked) Tag() Tag { return TagExportedFunctionInvoked }

// ExportedFunctionCompleted is the paired terminator for
// ExportedFunctionInvoked.
type ExportedFunctionCompleted struct {
	Timestamp     Timestamp
	Response      PayloadRef
	ConsumedFuel  int64
	Failed        bool
	FailureReason string
}

func (*ExportedFunctionCompleted) Tag() Tag { return TagExportedFunctionCompleted }

// Suspend marks a worker voluntarily suspending.
type Suspend struct {
	Timestamp Timestamp
}

func (*Suspend) Tag() Tag { return TagSuspend }

// Interrupted marks an external interrupt delivered to the worker.
type Interrupted struct {
	Timestamp Timestamp
}

func (*Interrupted) Tag() Tag { return TagInterrupted }

// Exited marks clean worker termination.
type Exited struct {
	Timestamp Timestamp
}

func (*Exited) Tag() Tag { return TagExited }

// Error records a worker failure.
type Error struct {
	Timestamp Timestamp
	WorkerError
}

func (*Error) Tag() Tag { return TagError }

// NoOp is a reserved marker used to pin jump targets.
type NoOp struct {
	Timestamp Timestamp
}

func (*NoOp) Tag() Tag { return TagNoOp }

// Jump instructs replay to skip a closed index interval.
type Jump struct {
	Timestamp Timestamp
	Region    Region
}

func (*Jump) Tag() Tag { return TagJump }

// ChangeRetryPolicy overrides the retry configuration from this point
// forward.
type ChangeRetryPolicy struct {
	Timestamp         Timestamp
	MaxAttempts       int32
	InitialBackoffMs  int64
	MaxBackoffMs      int64
	BackoffMultiplier float64
}

func (*ChangeRetryPolicy) Tag() Tag { return TagChangeRetryPolicy }

// BeginAtomicRegion opens a bracketed region that is elided on replay
// if never closed.
type BeginAtomicRegion struct {
	Timestamp Timestamp
}

func (*BeginAtomicRegion) Tag() Tag { return TagBeginAtomicRegion }

// EndAtomicRegion closes the region opened at BeginIndex.
type EndAtomicRegion struct {
	Timestamp  Timestamp
	BeginIndex OplogIndex
}

func (*EndAtomicRegion) Tag() Tag { return TagEndAtomicRegion }

// BeginRemoteWrite brackets a non-idempotent remote write.
type BeginRemoteWrite struct {
	Timestamp Timestamp
}

func (*BeginRemoteWrite) Tag() Tag { return TagBeginRemoteWrite }

// EndRemoteWrite closes the remote-write region opened at BeginIndex.
type EndRemoteWrite struct {
	Timestamp  Timestamp
	BeginIndex OplogIndex
}

func (*EndRemoteWrite) Tag() Tag { return TagEndRemoteWrite }

// PendingWorkerInvocation records an invocation that arrived while the
// worker was busy.
type PendingWorkerInvocation struct {
	Timestamp      Timestamp
	FunctionName   string
	Request        PayloadRef
	IdempotencyKey IdempotencyKey
}

func (*PendingWorkerInvocation) Tag() Tag { return TagPendingWorkerInvocation }

// PendingUpdate marks the start of a component version change.
type PendingUpdate struct {
	Timestamp      Timestamp
	TargetVersion  uint64
	UpdateSnapshot bool
}

func (*PendingUpdate) Tag() Tag { return TagPendingUpdate }

// SuccessfulUpdate marks a completed component version change.
type SuccessfulUpdate struct {
	Timestamp     Timestamp
	TargetVersion uint64
}

func (*SuccessfulUpdate) Tag() Tag { return TagSuccessfulUpdate }

// FailedUpdate marks a failed component version change.
type FailedUpdate struct {
	Timestamp     Timestamp
	TargetVersion uint64
	Reason        string
}

func (*FailedUpdate) Tag() Tag { return TagFailedUpdate }

// GrowMemory observes linear-memory growth.
type GrowMemory struct {
	Timestamp Timestamp
	Delta     int64
}

func (*GrowMemory) Tag() Tag { return TagGrowMemory }

// ResourceId identifies an entry in a worker's private resource table.
type ResourceId uint64

// CreateResource records creation of a wasm resource.
type CreateResource struct {
	Timestamp  Timestamp
	ResourceId ResourceId
}

func (*CreateResource) Tag() Tag { return TagCreateResource }

// DropResource records destruction of a wasm resource.
type DropResource struct {
	Timestamp  Timestamp
	ResourceId ResourceId
}

func (*DropResource) Tag() Tag { return TagDropResource }

// DescribeResource records a human-readable description attached to a
// resource, used for diagnostics.
type DescribeResource struct {
	Timestamp   Timestamp
	ResourceId  ResourceId
	Description string
}

func (*DescribeResource) Tag() Tag { return TagDescribeResource }

// LogLevel mirrors the guest-visible log levels recorded by Log
// entries.
type LogLevel uint8

const (
	LogTrace LogLevel = iota
	LogDebug
	LogInfo
	LogWarn
	LogError
)

// Log is a structured log line emitted by the guest.
type Log struct {
	Timestamp Timestamp
	Level     LogLevel
	Context   string
	Message   string
}

func (*Log) Tag() Tag { return TagLog }

// Restart marks a clean-slate restart point; replay resumes after it.
type Restart struct {
	Timestamp Timestamp
}

func (*Restart) Tag() Tag { return TagRestart }
