package capture

import (
	"encoding/base64"
	"fmt"

	"github.com/roach88/evidenceledger/internal/ir"
)

// Job is one unit of work flowing from a producer to the orchestrator.
type Job struct {
	Payload  []byte
	Metadata ir.Object

	// Ack, when set, releases the durable copy the job was read from. It is
	// called once the job's segment is registered and is never serialized.
	Ack func() error
}

// MarshalJob serializes a job canonically so it can sit in the overflow
// spool. The payload is base64-encoded.
func MarshalJob(j Job) ([]byte, error) {
	meta := j.Metadata
	if meta == nil {
		meta = ir.Object{}
	}
	data, err := ir.MarshalCanonical(ir.Object{
		"payload":  ir.String(base64.StdEncoding.EncodeToString(j.Payload)),
		"metadata": meta,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return data, nil
}

// UnmarshalJob is the inverse of MarshalJob.
func UnmarshalJob(data []byte) (Job, error) {
	v, err := ir.ParseValue(data)
	if err != nil {
		return Job{}, fmt.Errorf("unmarshal job: %w", err)
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return Job{}, fmt.Errorf("unmarshal job: expected object, got %T", v)
	}

	enc, ok := obj["payload"].(ir.String)
	if !ok {
		return Job{}, fmt.Errorf("unmarshal job: payload missing")
	}
	payload, err := base64.StdEncoding.DecodeString(string(enc))
	if err != nil {
		return Job{}, fmt.Errorf("unmarshal job: payload: %w", err)
	}

	meta, _ := obj["metadata"].(ir.Object)
	if meta == nil {
		meta = ir.Object{}
	}
	return Job{Payload: payload, Metadata: meta}, nil
}
