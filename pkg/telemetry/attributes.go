package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Standard attribute keys stamped onto durable-host spans (§3, §4.3).
const (
	AttrWorkerComponentID = "worker.component_id"
	AttrWorkerName        = "worker.name"
	AttrOplogIndex        = "oplog.index"

	AttrFunctionName   = "invocation.function_name"
	AttrIdempotencyKey = "invocation.idempotency_key"
	AttrDurabilityKind = "invocation.durability_kind"

	AttrRPCTargetComponentID = "rpc.target.component_id"
	AttrRPCTargetWorkerName  = "rpc.target.worker_name"
	AttrRPCMethod            = "rpc.method"
)

// WorkerAttributes returns the identity attributes stamped on every span
// opened for a worker's activation.
func WorkerAttributes(componentID, workerName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrWorkerComponentID, componentID),
		attribute.String(AttrWorkerName, workerName),
	}
}

// ImportedCallAttributes returns attributes stamped on a durability-wrapped
// host call span.
func ImportedCallAttributes(functionName string, oplogIndex int64, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrFunctionName, functionName),
		attribute.Int64(AttrOplogIndex, oplogIndex),
		attribute.String(AttrDurabilityKind, kind),
	}
}

// RPCAttributes returns attributes stamped on an outbound RPC call span.
func RPCAttributes(targetComponentID, targetWorkerName, method string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRPCTargetComponentID, targetComponentID),
		attribute.String(AttrRPCTargetWorkerName, targetWorkerName),
		attribute.String(AttrRPCMethod, method),
	}
}
