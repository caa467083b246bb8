package navigator_test

import (
	"errors"
	"testing"

	"github.com/fastworkflow/fastworkflow/internal/navigator"
	"github.com/fastworkflow/fastworkflow/pkg/workflow"
)

// order/item test objects for navigation chains.
type testStore struct{ name string }
type testOrder struct {
	id    string
	store *testStore
}
type testItem struct {
	sku   string
	order *testOrder
}

// newShopRegistry wires a three-level object graph:
// OrderItem -> Order -> Store.
func newShopRegistry() *workflow.HandlerRegistry {
	reg := workflow.NewHandlerRegistry()
	reg.RegisterContext("OrderItem", workflow.ContextHooks{
		Parent: func(obj any) (string, any) {
			return "Order", obj.(*testItem).order
		},
		DisplayName: func(obj any) string {
			return "item " + obj.(*testItem).sku
		},
	})
	reg.RegisterContext("Order", workflow.ContextHooks{
		Parent: func(obj any) (string, any) {
			return "Store", obj.(*testOrder).store
		},
	})
	return reg
}

func TestSetRoot_Once(t *testing.T) {
	t.Parallel()

	n := navigator.New(workflow.NewHandlerRegistry())
	store := &testStore{name: "main"}

	if err := n.SetRoot("Store", store); err != nil {
		t.Fatalf("SetRoot: unexpected error: %v", err)
	}
	if err := n.SetRoot("Store", &testStore{name: "other"}); !errors.Is(err, navigator.ErrRootAlreadySet) {
		t.Fatalf("SetRoot twice: expected ErrRootAlreadySet, got %v", err)
	}

	if n.Root() != store {
		t.Error("Root: expected the first root object to survive")
	}
	if n.CurrentName() != "Store" {
		t.Errorf("CurrentName: expected Store, got %q", n.CurrentName())
	}
}

func TestNew_StartsAtGlobal(t *testing.T) {
	t.Parallel()

	n := navigator.New(workflow.NewHandlerRegistry())
	if n.CurrentName() != workflow.RootContext {
		t.Errorf("CurrentName: expected %q, got %q", workflow.RootContext, n.CurrentName())
	}
	if n.Current() != nil {
		t.Error("Current: expected nil at the global context")
	}
	if n.DisplayName() != "global" {
		t.Errorf("DisplayName: expected global, got %q", n.DisplayName())
	}
	if n.Ascend() {
		t.Error("Ascend: expected false with nowhere to go")
	}
}

func TestSetCurrent_AndReset(t *testing.T) {
	t.Parallel()

	n := navigator.New(newShopRegistry())
	store := &testStore{name: "main"}
	if err := n.SetRoot("Store", store); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}

	order := &testOrder{id: "ORD-1", store: store}
	n.SetCurrent("Order", order)
	if n.CurrentName() != "Order" || n.Current() != order {
		t.Fatalf("SetCurrent: expected Order cursor, got %s", n.CurrentName())
	}

	n.Reset()
	if n.CurrentName() != "Store" || n.Current() != store {
		t.Errorf("Reset: expected Store root, got %s", n.CurrentName())
	}

	// The global name with a nil object is an explicit reset.
	n.SetCurrent("Order", order)
	n.SetCurrent(workflow.RootContext, nil)
	if n.CurrentName() != "Store" {
		t.Errorf("SetCurrent(*, nil): expected reset to Store, got %s", n.CurrentName())
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	n := navigator.New(newShopRegistry())
	store := &testStore{name: "main"}
	if err := n.SetRoot("Store", store); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}

	// No hook for Store: falls back to the context name.
	if got := n.DisplayName(); got != "Store" {
		t.Errorf("DisplayName(Store): expected Store, got %q", got)
	}

	item := &testItem{sku: "SKU-9"}
	n.SetCurrent("OrderItem", item)
	if got := n.DisplayName(); got != "item SKU-9" {
		t.Errorf("DisplayName(OrderItem): expected hook result, got %q", got)
	}
}

func TestAscend(t *testing.T) {
	t.Parallel()

	n := navigator.New(newShopRegistry())
	store := &testStore{name: "main"}
	if err := n.SetRoot("Store", store); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	order := &testOrder{id: "ORD-1", store: store}
	item := &testItem{sku: "SKU-9", order: order}
	n.SetCurrent("OrderItem", item)

	if !n.Ascend() {
		t.Fatal("Ascend: expected move from OrderItem")
	}
	if n.CurrentName() != "Order" || n.Current() != order {
		t.Fatalf("Ascend: expected Order, got %s", n.CurrentName())
	}

	if !n.Ascend() {
		t.Fatal("Ascend: expected move from Order")
	}
	if n.CurrentName() != "Store" {
		t.Fatalf("Ascend: expected Store, got %s", n.CurrentName())
	}

	// Landing on the root's context stops the climb.
	if n.Ascend() {
		t.Error("Ascend at root: expected false")
	}
}

func TestAscend_NoHookFallsBackToRoot(t *testing.T) {
	t.Parallel()

	n := navigator.New(workflow.NewHandlerRegistry()) // no hooks at all
	store := &testStore{name: "main"}
	if err := n.SetRoot("Store", store); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	n.SetCurrent("Order", &testOrder{id: "ORD-1"})

	if !n.Ascend() {
		t.Fatal("Ascend: expected move to root")
	}
	if n.CurrentName() != "Store" || n.Current() != store {
		t.Errorf("Ascend: expected Store root, got %s", n.CurrentName())
	}
}

func TestChain(t *testing.T) {
	t.Parallel()

	n := navigator.New(newShopRegistry())
	store := &testStore{name: "main"}
	if err := n.SetRoot("Store", store); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	order := &testOrder{id: "ORD-1", store: store}
	item := &testItem{sku: "SKU-9", order: order}
	n.SetCurrent("OrderItem", item)

	chain := n.Chain()
	wantNames := []string{"OrderItem", "Order", "Store"}
	if len(chain) != len(wantNames) {
		t.Fatalf("Chain: expected %d frames, got %d", len(wantNames), len(chain))
	}
	for i, want := range wantNames {
		if chain[i].Name != want {
			t.Errorf("Chain[%d]: expected %s, got %s", i, want, chain[i].Name)
		}
	}

	// At the root the chain is just the root frame.
	n.Reset()
	if chain := n.Chain(); len(chain) != 1 || chain[0].Name != "Store" {
		t.Errorf("Chain at root: expected [Store], got %v", chain)
	}
}

func TestChain_CyclicHooksAreCapped(t *testing.T) {
	t.Parallel()

	reg := workflow.NewHandlerRegistry()
	reg.RegisterContext("Loop", workflow.ContextHooks{
		Parent: func(obj any) (string, any) { return "Loop", obj },
	})
	n := navigator.New(reg)
	if err := n.SetRoot("Store", &testStore{}); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	n.SetCurrent("Loop", &testOrder{})

	chain := n.Chain()
	if len(chain) == 0 || len(chain) > 32 {
		t.Errorf("Chain: expected capped non-empty chain, got %d frames", len(chain))
	}
}
