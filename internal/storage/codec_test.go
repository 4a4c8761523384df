package storage

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"
)

func TestCodec_RoundTrip(t *testing.T) {
	date := time.Date(2014, 3, 7, 0, 0, 0, 0, time.UTC)
	doc := Document{
		"object": map[string]any{"a": "b"},
		"array":  []any{1.0, 2.0, 3.0},
		"number": 5.85,
		"string": "hapi",
		"bool":   true,
		"null":   nil,
		"date":   date,
		"nested": map[string]any{"when": []any{date, "x"}},
	}

	data, err := encodeDocument(doc)
	if err != nil {
		t.Fatal(err)
	}

	got, err := decodeDocument(data)
	if err != nil {
		t.Fatal(err)
	}

	gotDate, ok := got["date"].(time.Time)
	if !ok {
		t.Fatalf("expected date to decode as time.Time, got %T", got["date"])
	}
	if !gotDate.Equal(date) {
		t.Errorf("expected %v, got %v", date, gotDate)
	}

	for _, field := range []string{"object", "array", "number", "string", "bool", "null"} {
		if !reflect.DeepEqual(got[field], doc[field]) {
			t.Errorf("field %s: expected %#v, got %#v", field, doc[field], got[field])
		}
	}

	nested := got["nested"].(map[string]any)["when"].([]any)
	if when, ok := nested[0].(time.Time); !ok || !when.Equal(date) {
		t.Errorf("expected nested date %v, got %#v", date, nested[0])
	}
}

func TestCodec_NumbersDecodeAsFloat(t *testing.T) {
	data, err := encodeDocument(Document{"int": 7, "uint": uint8(3), "f32": float32(1.5)})
	if err != nil {
		t.Fatal(err)
	}

	got, err := decodeDocument(data)
	if err != nil {
		t.Fatal(err)
	}

	if got["int"] != 7.0 || got["uint"] != 3.0 || got["f32"] != 1.5 {
		t.Errorf("unexpected numbers: %#v", got)
	}
}

func TestCodec_Structs(t *testing.T) {
	type point struct {
		X int    `json:"x"`
		Y int    `json:"y"`
		L string `json:"label,omitempty"`
	}

	data, err := encodeDocument(Document{"p": point{X: 1, Y: 2}, "ptr": &point{X: 3}})
	if err != nil {
		t.Fatal(err)
	}

	got, err := decodeDocument(data)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]any{"x": 1.0, "y": 2.0}
	if !reflect.DeepEqual(got["p"], want) {
		t.Errorf("expected %#v, got %#v", want, got["p"])
	}
	if got["ptr"].(map[string]any)["x"] != 3.0 {
		t.Errorf("unexpected pointer value: %#v", got["ptr"])
	}
}

func TestCodec_Rejects(t *testing.T) {
	cyclicMap := map[string]any{"a": 1}
	cyclicMap["b"] = cyclicMap

	cyclicSlice := make([]any, 1)
	cyclicSlice[0] = cyclicSlice

	type node struct {
		Next *node
	}
	cyclicNode := &node{}
	cyclicNode.Next = cyclicNode

	tests := []struct {
		name  string
		value any
	}{
		{name: "cyclic_map", value: cyclicMap},
		{name: "cyclic_slice", value: cyclicSlice},
		{name: "cyclic_struct", value: cyclicNode},
		{name: "channel", value: make(chan int)},
		{name: "func", value: func() {}},
		{name: "complex", value: complex(1, 2)},
		{name: "nan", value: math.NaN()},
		{name: "int_keys", value: map[int]string{1: "a"}},
		{name: "dollar_key", value: map[string]any{"$set": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := encodeDocument(Document{"value": tt.value})
			if !errors.Is(err, ErrUnserializable) {
				t.Errorf("expected ErrUnserializable, got %v", err)
			}
		})
	}
}

func TestCodec_SharedReferencesAreNotCycles(t *testing.T) {
	shared := map[string]any{"k": "v"}
	doc := Document{"a": shared, "b": shared, "list": []any{shared, shared}}

	if _, err := encodeDocument(doc); err != nil {
		t.Errorf("expected shared references to encode, got %v", err)
	}
}
