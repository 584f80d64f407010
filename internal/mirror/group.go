package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crossbooks/crossbooks/internal/books"
	"github.com/crossbooks/crossbooks/internal/event"
	"github.com/crossbooks/crossbooks/internal/platform"
)

// GroupMirror keeps peer groups aligned by name across connected books.
type GroupMirror struct {
	api    Platform
	logger *slog.Logger
}

// NewGroupMirror wires the group mirror.
func NewGroupMirror(api Platform, logger *slog.Logger) *GroupMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &GroupMirror{api: api, logger: logger}
}

// CreatedOrUpdated converges the peer group to the source group's name,
// parent, visibility and visible properties. The child_book_id property never
// crosses books: it is dropped on create and preserved from the peer on
// update, since it points into the target's own hierarchy.
func (m *GroupMirror) CreatedOrUpdated(ctx context.Context, _, target *platform.Book, ev *event.Event) (string, error) {
	group, err := ev.Group()
	if err != nil {
		return "", err
	}

	var parent *platform.Group
	if group.Parent != nil {
		parent, err = m.api.GetGroup(ctx, target.ID, group.Parent.Name)
		if err != nil {
			return "", err
		}
	}

	peer, err := m.api.GetGroup(ctx, target.ID, group.Name)
	if err != nil {
		return "", err
	}
	if peer == nil {
		props := visibleProperties(group.Properties)
		delete(props, books.PropChildBookID)
		created := &platform.Group{
			Name:       group.Name,
			Parent:     parent,
			Hidden:     group.Hidden,
			Properties: props,
		}
		if _, err := m.api.CreateGroup(ctx, target.ID, created); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: GROUP %s CREATED", Anchor(target), created.Name), nil
	}

	childBookID := peer.Property(books.PropChildBookID)
	peer.Name = group.Name
	peer.Parent = parent
	peer.Hidden = group.Hidden
	peer.Properties = visibleProperties(group.Properties)
	if childBookID != "" {
		peer.SetProperty(books.PropChildBookID, childBookID)
	} else {
		delete(peer.Properties, books.PropChildBookID)
	}
	if err := m.api.UpdateGroup(ctx, target.ID, peer); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: GROUP %s UPDATED", Anchor(target), peer.Name), nil
}

// Deleted removes the peer group. A missing peer is reported, not an error.
func (m *GroupMirror) Deleted(ctx context.Context, _, target *platform.Book, ev *event.Event) (string, error) {
	group, err := ev.Group()
	if err != nil {
		return "", err
	}
	peer, err := m.api.GetGroup(ctx, target.ID, group.Name)
	if err != nil {
		return "", err
	}
	if peer == nil {
		return fmt.Sprintf("%s: GROUP %s NOT Found", Anchor(target), group.Name), nil
	}
	if err := m.api.DeleteGroup(ctx, target.ID, peer.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s: GROUP %s DELETED", Anchor(target), peer.Name), nil
}
