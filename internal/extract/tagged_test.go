package extract_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/fastworkflow/fastworkflow/internal/extract"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

func TestTaggedExtractor_Tags(t *testing.T) {
	desc := loadCancelOrder(t)
	e := &extract.TaggedExtractor{}

	rec, err := e.Extract(context.Background(),
		desc, "please run it with <order_id>#W0000001</order_id> and <reason>Ordered By Mistake</reason>")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec["order_id"] != "#W0000001" {
		t.Errorf("order_id = %v", rec["order_id"])
	}
	// Enum values canonicalize to the declared spelling.
	if rec["reason"] != "ordered by mistake" {
		t.Errorf("reason = %v, want declared enum spelling", rec["reason"])
	}
	if !workflow.IsSentinel(workflow.KindString, rec["note"]) {
		t.Errorf("note = %v, want sentinel", rec["note"])
	}
}

func TestTaggedExtractor_Pairs(t *testing.T) {
	e := &extract.TaggedExtractor{}

	t.Run("bare pairs", func(t *testing.T) {
		desc := loadAddNumbers(t)
		rec, err := e.Extract(context.Background(), desc, "first_num=5 second_num=3")
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if rec["first_num"] != 5.0 || rec["second_num"] != 3.0 {
			t.Errorf("record = %v, want 5 and 3", rec)
		}
	})

	t.Run("call syntax with quoted value", func(t *testing.T) {
		desc := loadCancelOrder(t)
		rec, err := e.Extract(context.Background(), desc, `(order_id=#W0000001, note="arrived broken")`)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if rec["order_id"] != "#W0000001" {
			t.Errorf("order_id = %v", rec["order_id"])
		}
		if rec["note"] != "arrived broken" {
			t.Errorf("note = %v", rec["note"])
		}
	})

	t.Run("list value in brackets", func(t *testing.T) {
		desc := loadCancelOrder(t)
		rec, err := e.Extract(context.Background(), desc, `cc=["a@b.c", "d@e.f"]`)
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		want := []string{"a@b.c", "d@e.f"}
		if !reflect.DeepEqual(rec["cc"], want) {
			t.Errorf("cc = %v, want %v", rec["cc"], want)
		}
	})

	t.Run("free text yields sentinels", func(t *testing.T) {
		desc := loadCancelOrder(t)
		rec, err := e.Extract(context.Background(), desc, "cancel my order please")
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if extract.Found(desc, rec) {
			t.Errorf("free text produced values: %v", rec)
		}
	})
}
