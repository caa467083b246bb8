package llm

import "testing"

func TestToolCallAssembler_StitchesInterleavedFragments(t *testing.T) {
	asm := NewToolCallAssembler()
	asm.Add(0, "call_1", "add_two_numbers", `{"first`)
	asm.Add(1, "call_2", "get_weather", `{"city":`)
	asm.Add(0, "", "", `_num":5}`)
	asm.Add(1, "", "", `"Paris"}`)

	calls := asm.Assembled()
	if len(calls) != 2 {
		t.Fatalf("assembled %d calls, want 2", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Arguments != `{"first_num":5}` {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[1].Name != "get_weather" || calls[1].Arguments != `{"city":"Paris"}` {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestToolCallAssembler_KeepsFirstSeenOrderForSparseIndexes(t *testing.T) {
	asm := NewToolCallAssembler()
	asm.Add(3, "call_b", "rotate_conversation", `{}`)
	asm.Add(1, "call_a", "ask_user", `{"prompt":"which city?"}`)

	calls := asm.Assembled()
	if len(calls) != 2 {
		t.Fatalf("assembled %d calls, want 2", len(calls))
	}
	if calls[0].ID != "call_b" || calls[1].ID != "call_a" {
		t.Errorf("order = [%s %s], want [call_b call_a]", calls[0].ID, calls[1].ID)
	}
}

func TestToolCallAssembler_EmptyYieldsNil(t *testing.T) {
	if got := NewToolCallAssembler().Assembled(); got != nil {
		t.Errorf("Assembled() on empty assembler = %v, want nil", got)
	}
}
