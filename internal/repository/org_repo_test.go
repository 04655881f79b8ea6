package repository

import (
	"context"
	"testing"

	"github.com/kbragio/kbrag/internal/model"
)

func TestOrganizationRepository_CreateAddsOwnerAsMember(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrganizationRepository(db)
	ctx := context.Background()

	org := &model.Organization{Name: "acme", OwnerID: 1}
	if err := repo.Create(ctx, org); err != nil {
		t.Fatalf("Create: %v", err)
	}

	isMember, err := repo.IsMember(ctx, org.ID, 1)
	if err != nil {
		t.Fatalf("IsMember: %v", err)
	}
	if !isMember {
		t.Error("expected owner to be recorded as a member")
	}
}

func TestOrganizationRepository_ListForUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrganizationRepository(db)
	ctx := context.Background()

	org := &model.Organization{Name: "acme", OwnerID: 7}
	if err := repo.Create(ctx, org); err != nil {
		t.Fatalf("Create: %v", err)
	}

	orgs, err := repo.ListForUser(ctx, 7)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(orgs) != 1 || orgs[0].ID != org.ID {
		t.Errorf("got %+v, want exactly org %d", orgs, org.ID)
	}

	orgs, err = repo.ListForUser(ctx, 99)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(orgs) != 0 {
		t.Errorf("got %d orgs for unrelated user, want 0", len(orgs))
	}
}

func TestOrganizationRepository_GetByIDNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrganizationRepository(db)

	if _, err := repo.GetByID(context.Background(), 404); err != ErrNotFound {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
