package rpc

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// UpsertRequest creates or updates a record. ExpectedVersion zero means the
// caller has never seen the record (a create). OpID is the idempotency key.
type UpsertRequest struct {
	Kind            string          `json:"kind"`
	ID              string          `json:"id"`
	Payload         json.RawMessage `json:"payload"`
	ExpectedVersion int64           `json:"expectedVersion,omitempty"`
	OpID            string          `json:"opId"`
}

type DeleteRequest struct {
	Kind            string `json:"kind"`
	ID              string `json:"id"`
	ExpectedVersion int64  `json:"expectedVersion,omitempty"`
	OpID            string `json:"opId"`
}

// WriteResponse is returned by Upsert and Delete.
type WriteResponse struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type FetchRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Snapshot is the server copy of a record. It is returned by Fetch and
// attached as a status detail to conflict errors.
type Snapshot struct {
	Kind      string          `json:"kind"`
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Deleted   bool            `json:"deleted,omitempty"`
}

type PingResponse struct {
	Status string `json:"status"`
}

type PresignRequest struct {
	ExpenseID   string `json:"expenseId"`
	ContentType string `json:"contentType,omitempty"`
}

type PresignResponse struct {
	Key    string `json:"key"`
	PutURL string `json:"putUrl"`
	GetURL string `json:"getUrl"`
}

// ToStruct encodes v (a JSON object) as a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// FromStruct decodes s into v.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
