package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for gateway operations, following OpenTelemetry
// semantic conventions where applicable.
const (
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	AttrTenant   = "gateway.tenant"
	AttrBucket   = "gateway.bucket"
	AttrObject   = "gateway.object"
	AttrVersion  = "gateway.version"
	AttrUploadID = "gateway.upload_id"
	AttrOwner    = "gateway.owner"

	AttrOperation = "gateway.operation"
	AttrStatus    = "gateway.status"

	AttrBackendKind = "blob.backend"
	AttrBlobKey     = "blob.key"
	AttrBlobSize    = "blob.size"

	AttrShardKind = "shard.kind"
	AttrShardKey  = "shard.key"
	AttrSlotNo    = "shard.slot"
)

// Span names for internal operations.
const (
	SpanBlobRead    = "blob.read"
	SpanBlobWrite   = "blob.write"
	SpanBlobHead    = "blob.head"
	SpanBlobCopy    = "blob.copy"
	SpanBlobDelete  = "blob.delete"
	SpanMetaTx      = "metadata.transaction"
	SpanUploadStart = "upload.start"
	SpanUploadFin   = "upload.complete"
	SpanLockAcquire = "lock.acquire"
	SpanLockRelease = "lock.release"
	SpanShardReserve = "shard.reserve"
)

func ClientIP(ip string) attribute.KeyValue   { return attribute.String(AttrClientIP, ip) }
func ClientAddr(a string) attribute.KeyValue  { return attribute.String(AttrClientAddr, a) }
func Tenant(id string) attribute.KeyValue     { return attribute.String(AttrTenant, id) }
func Bucket(name string) attribute.KeyValue   { return attribute.String(AttrBucket, name) }
func Object(name string) attribute.KeyValue   { return attribute.String(AttrObject, name) }
func Version(v string) attribute.KeyValue     { return attribute.String(AttrVersion, v) }
func UploadID(id string) attribute.KeyValue   { return attribute.String(AttrUploadID, id) }
func Owner(id string) attribute.KeyValue      { return attribute.String(AttrOwner, id) }
func Operation(op string) attribute.KeyValue  { return attribute.String(AttrOperation, op) }
func Status(s string) attribute.KeyValue      { return attribute.String(AttrStatus, s) }
func BackendKind(k string) attribute.KeyValue { return attribute.String(AttrBackendKind, k) }
func BlobKey(k string) attribute.KeyValue     { return attribute.String(AttrBlobKey, k) }
func BlobSize(n int64) attribute.KeyValue     { return attribute.Int64(AttrBlobSize, n) }
func ShardKind(k string) attribute.KeyValue   { return attribute.String(AttrShardKind, k) }
func ShardKey(k string) attribute.KeyValue    { return attribute.String(AttrShardKey, k) }
func SlotNo(n int) attribute.KeyValue         { return attribute.Int(AttrSlotNo, n) }

// StartBlobSpan starts a span for a blob backend operation.
func StartBlobSpan(ctx context.Context, name string, backend, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{BackendKind(backend), BlobKey(key)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(allAttrs...))
}

// StartMetadataSpan starts a span for a metadata store transaction.
func StartMetadataSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Operation(operation)}, attrs...)
	return StartSpan(ctx, SpanMetaTx, trace.WithAttributes(allAttrs...))
}
