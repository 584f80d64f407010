package mirror

import (
	"context"
	"strings"
	"testing"

	"github.com/crossbooks/crossbooks/internal/books"
	"github.com/crossbooks/crossbooks/internal/event"
	"github.com/crossbooks/crossbooks/internal/platform"
)

func TestGroupCreatedOrUpdatedCreatesPeer(t *testing.T) {
	api := newStubAPI()
	m := NewGroupMirror(api, nil)
	source := testBook("b-usd", "USD")
	target := testBook("b-eur", "EUR")
	api.groups[api.key("b-eur", "Assets")] = &platform.Group{ID: "peer-parent", Name: "Assets"}

	group := &platform.Group{
		ID:     "g-1",
		Name:   "Current Assets",
		Parent: &platform.Group{Name: "Assets"},
		Properties: map[string]string{
			books.PropChildBookID: "child-book-1",
			"color":               "green",
		},
	}

	record, err := m.CreatedOrUpdated(context.Background(), source, target, groupEvent(t, event.GroupCreated, source, group))
	if err != nil {
		t.Fatalf("CreatedOrUpdated returned error: %v", err)
	}
	if !strings.Contains(record, "GROUP Current Assets CREATED") {
		t.Fatalf("unexpected record %q", record)
	}
	if len(api.createdGroups) != 1 {
		t.Fatalf("expected one created group got %d", len(api.createdGroups))
	}
	created := api.createdGroups[0]
	if created.Parent == nil || created.Parent.ID != "peer-parent" {
		t.Fatalf("expected parent resolved on target got %+v", created.Parent)
	}
	if _, ok := created.Properties[books.PropChildBookID]; ok {
		t.Fatal("expected child_book_id dropped on create")
	}
	if created.Properties["color"] != "green" {
		t.Fatalf("expected other properties copied got %+v", created.Properties)
	}
}

func TestGroupCreatedOrUpdatedPreservesLocalChildBook(t *testing.T) {
	api := newStubAPI()
	m := NewGroupMirror(api, nil)
	source := testBook("b-usd", "USD")
	target := testBook("b-eur", "EUR")
	api.groups[api.key("b-eur", "Current Assets")] = &platform.Group{
		ID:         "peer-1",
		Name:       "Current Assets",
		Properties: map[string]string{books.PropChildBookID: "local-child"},
	}

	group := &platform.Group{
		ID:         "g-1",
		Name:       "Current Assets",
		Hidden:     true,
		Properties: map[string]string{books.PropChildBookID: "source-child"},
	}

	record, err := m.CreatedOrUpdated(context.Background(), source, target, groupEvent(t, event.GroupUpdated, source, group))
	if err != nil {
		t.Fatalf("CreatedOrUpdated returned error: %v", err)
	}
	if !strings.Contains(record, "GROUP Current Assets UPDATED") {
		t.Fatalf("unexpected record %q", record)
	}
	if len(api.updatedGroups) != 1 {
		t.Fatalf("expected one updated group got %d", len(api.updatedGroups))
	}
	updated := api.updatedGroups[0]
	if !updated.Hidden {
		t.Fatal("expected hidden flag copied")
	}
	if updated.Property(books.PropChildBookID) != "local-child" {
		t.Fatalf("expected local child_book_id preserved got %s", updated.Property(books.PropChildBookID))
	}
}

func TestGroupDeletedRemovesPeer(t *testing.T) {
	api := newStubAPI()
	m := NewGroupMirror(api, nil)
	source := testBook("b-usd", "USD")
	target := testBook("b-eur", "EUR")
	api.groups[api.key("b-eur", "Current Assets")] = &platform.Group{ID: "peer-1", Name: "Current Assets"}

	record, err := m.Deleted(context.Background(), source, target, groupEvent(t, event.GroupDeleted, source, &platform.Group{Name: "Current Assets"}))
	if err != nil {
		t.Fatalf("Deleted returned error: %v", err)
	}
	if !strings.Contains(record, "GROUP Current Assets DELETED") {
		t.Fatalf("unexpected record %q", record)
	}
	if len(api.deletedGroups) != 1 || api.deletedGroups[0] != "peer-1" {
		t.Fatalf("expected peer removed got %v", api.deletedGroups)
	}
}

func TestGroupDeletedMissingPeer(t *testing.T) {
	api := newStubAPI()
	m := NewGroupMirror(api, nil)
	source := testBook("b-usd", "USD")
	target := testBook("b-eur", "EUR")

	record, err := m.Deleted(context.Background(), source, target, groupEvent(t, event.GroupDeleted, source, &platform.Group{Name: "Current Assets"}))
	if err != nil {
		t.Fatalf("Deleted returned error: %v", err)
	}
	if !strings.Contains(record, "NOT Found") {
		t.Fatalf("unexpected record %q", record)
	}
}
