package modules

import (
	"reflect"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func TestLuaToGo(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(`
		seq = {"a", "b"}
		obj = {name = "x", n = 2, nested = {ok = true}}
	`); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		value    lua.LValue
		expected interface{}
	}{
		{"string", lua.LString("s"), "s"},
		{"number", lua.LNumber(1.5), 1.5},
		{"bool", lua.LTrue, true},
		{"nil", lua.LNil, nil},
		{"sequence", L.GetGlobal("seq"), []interface{}{"a", "b"}},
		{
			"table",
			L.GetGlobal("obj"),
			map[string]interface{}{"name": "x", "n": 2.0, "nested": map[string]interface{}{"ok": true}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LuaToGo(tt.value); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %#v, got %#v", tt.expected, got)
			}
		})
	}
}

func TestGoToLuaValue(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if v := GoToLuaValue(L, time.UnixMilli(1234)); v != lua.LNumber(1234) {
		t.Errorf("expected time as ms, got %v", v)
	}

	v := GoToLuaValue(L, map[string]interface{}{
		"list": []interface{}{1.0, "two"},
		"none": nil,
	})
	tbl, ok := v.(*lua.LTable)
	if !ok {
		t.Fatalf("expected table, got %T", v)
	}

	list, ok := tbl.RawGetString("list").(*lua.LTable)
	if !ok || list.Len() != 2 {
		t.Fatalf("expected list of 2, got %v", tbl.RawGetString("list"))
	}
	if list.RawGetInt(2) != lua.LString("two") {
		t.Errorf("expected two, got %v", list.RawGetInt(2))
	}
	if tbl.RawGetString("none") != lua.LNil {
		t.Errorf("expected nil, got %v", tbl.RawGetString("none"))
	}
}
