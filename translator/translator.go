// Package translator holds ready-made record translators that store records
// as bytes.
package translator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/goliatone/go-record-cache/repositorycache"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	_ repositorycache.Translator[any, []byte] = (*JSON[any])(nil)
	_ repositorycache.Translator[any, []byte] = (*Msgpack[any])(nil)
)

// JSON translates records with encoding/json.
type JSON[D any] struct {
	newRecord func() D
}

// NewJSON returns a JSON translator. newRecord builds the default record and
// is also the decode target, so fields missing from stored data keep their
// defaults.
func NewJSON[D any](newRecord func() D) *JSON[D] {
	return &JSON[D]{newRecord: newRecord}
}

func (t *JSON[D]) CreateNew() D {
	return t.newRecord()
}

func (t *JSON[D]) FromWire(data []byte) (D, error) {
	record := t.newRecord()
	if err := json.Unmarshal(data, &record); err != nil {
		var zero D
		return zero, fmt.Errorf("decode json: %w", err)
	}
	return record, nil
}

func (t *JSON[D]) ToWire(record D) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}

// Msgpack translates records with MessagePack. Field names follow the json
// struct tags so one record type serves both translators.
type Msgpack[D any] struct {
	newRecord func() D
}

// NewMsgpack returns a MessagePack translator.
func NewMsgpack[D any](newRecord func() D) *Msgpack[D] {
	return &Msgpack[D]{newRecord: newRecord}
}

func (t *Msgpack[D]) CreateNew() D {
	return t.newRecord()
}

func (t *Msgpack[D]) FromWire(data []byte) (D, error) {
	record := t.newRecord()
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&record); err != nil {
		var zero D
		return zero, fmt.Errorf("decode msgpack: %w", err)
	}
	return record, nil
}

func (t *Msgpack[D]) ToWire(record D) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(record); err != nil {
		return nil, fmt.Errorf("encode msgpack: %w", err)
	}
	return buf.Bytes(), nil
}
