package storage

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// InstrumentedKV wraps a KV and counts operations and failures per operation
// name. ErrNotFound is a normal outcome, not a failure.
type InstrumentedKV struct {
	next KV
	ops  *prometheus.CounterVec
	errs *prometheus.CounterVec
}

// Instrument wraps next with operation counters.
func Instrument(next KV, ops, errs *prometheus.CounterVec) *InstrumentedKV {
	return &InstrumentedKV{next: next, ops: ops, errs: errs}
}

func (kv *InstrumentedKV) record(op string, err error) {
	kv.ops.WithLabelValues(op).Inc()
	if err != nil && !errors.Is(err, ErrNotFound) {
		kv.errs.WithLabelValues(op).Inc()
	}
}

func (kv *InstrumentedKV) GetRaw(ctx context.Context, key string) ([]byte, error) {
	data, err := kv.next.GetRaw(ctx, key)
	kv.record("get_raw", err)
	return data, err
}

func (kv *InstrumentedKV) PutRaw(ctx context.Context, key string, data []byte) error {
	err := kv.next.PutRaw(ctx, key, data)
	kv.record("put_raw", err)
	return err
}

func (kv *InstrumentedKV) Remove(ctx context.Context, prefix string) error {
	err := kv.next.Remove(ctx, prefix)
	kv.record("remove", err)
	return err
}

func (kv *InstrumentedKV) GetMeta(ctx context.Context, key string) (map[string]string, error) {
	meta, err := kv.next.GetMeta(ctx, key)
	kv.record("get_meta", err)
	return meta, err
}

func (kv *InstrumentedKV) SetMeta(ctx context.Context, key string, meta map[string]string) error {
	err := kv.next.SetMeta(ctx, key, meta)
	kv.record("set_meta", err)
	return err
}
