package store

import (
	"context"
	"testing"
	"time"

	"crystal/internal/model"
)

func TestCreateResourceIsIdempotentByURL(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	id1, err := s.CreateResource(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	id2, err := s.CreateResource(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("CreateResource() second call id = %d, want %d", id2, id1)
	}
}

func TestResourceByURLNotFound(t *testing.T) {
	s := openFreshProject(t)
	_, err := s.ResourceByURL(context.Background(), "https://example.com/missing")
	if err != model.ErrNotFound {
		t.Errorf("ResourceByURL() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteResourceRejectsWhenRootReferences(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	id, err := s.CreateResource(ctx, "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateRootResource(ctx, "home", id); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteResource(ctx, id); err != model.ErrResourceReferenced {
		t.Errorf("DeleteResource() error = %v, want ErrResourceReferenced", err)
	}
}

func TestCreateRevisionRoundTrip(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	resID, err := s.CreateResource(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}

	rev := model.Revision{
		ResourceID:    resID,
		RequestCookie: "cookie-a",
		Metadata: &model.ResponseMetadata{
			StatusCode:   200,
			ReasonPhrase: "OK",
			Headers:      [][2]string{{"Content-Type", "text/html"}},
		},
		CreatedAt: time.Now(),
	}
	id, err := s.CreateRevision(ctx, rev)
	if err != nil {
		t.Fatalf("CreateRevision() error = %v", err)
	}

	got, err := s.RevisionByID(ctx, id)
	if err != nil {
		t.Fatalf("RevisionByID() error = %v", err)
	}
	if got.RequestCookie != "cookie-a" {
		t.Errorf("RequestCookie = %q, want cookie-a", got.RequestCookie)
	}
	if got.Metadata == nil || got.Metadata.StatusCode != 200 {
		t.Errorf("Metadata = %+v, want StatusCode 200", got.Metadata)
	}
	if got.IsError() {
		t.Error("IsError() = true, want false")
	}
}

func TestCreateRevisionWithError(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	resID, err := s.CreateResource(ctx, "https://example.com/broken")
	if err != nil {
		t.Fatal(err)
	}

	rev := model.Revision{
		ResourceID: resID,
		Error:      &model.RevisionError{Kind: model.RevisionErrorTimeout, Message: "i/o timeout"},
		CreatedAt:  time.Now(),
	}
	id, err := s.CreateRevision(ctx, rev)
	if err != nil {
		t.Fatalf("CreateRevision() error = %v", err)
	}

	got, err := s.RevisionByID(ctx, id)
	if err != nil {
		t.Fatalf("RevisionByID() error = %v", err)
	}
	if !got.IsError() {
		t.Error("IsError() = false, want true")
	}
	if got.Error.Kind != model.RevisionErrorTimeout {
		t.Errorf("Error.Kind = %v, want RevisionErrorTimeout", got.Error.Kind)
	}
}

func TestLatestRevisionReturnsMostRecent(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	resID, err := s.CreateResource(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.CreateRevision(ctx, model.Revision{ResourceID: resID, CreatedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	revs, err := s.RevisionsByResource(ctx, resID)
	if err != nil {
		t.Fatal(err)
	}
	if len(revs) != 3 {
		t.Fatalf("RevisionsByResource() len = %d, want 3", len(revs))
	}

	latest, err := s.LatestRevision(ctx, resID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != revs[len(revs)-1].ID {
		t.Errorf("LatestRevision() ID = %d, want %d", latest.ID, revs[len(revs)-1].ID)
	}
}

func TestResourceGroupAndAliasCRUD(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	gid, err := s.CreateResourceGroup(ctx, model.ResourceGroup{
		Name:       "images",
		URLPattern: "https://example.com/img/**",
	})
	if err != nil {
		t.Fatalf("CreateResourceGroup() error = %v", err)
	}
	g, err := s.GroupByID(ctx, gid)
	if err != nil {
		t.Fatalf("GroupByID() error = %v", err)
	}
	if g.Name != "images" {
		t.Errorf("GroupByID() Name = %q, want images", g.Name)
	}

	aid, err := s.CreateAlias(ctx, model.Alias{
		SourceURLPrefix: "https://old.example.com/",
		TargetURLPrefix: "https://example.com/",
	})
	if err != nil {
		t.Fatalf("CreateAlias() error = %v", err)
	}
	aliases, err := s.AllAliases(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(aliases) != 1 || aliases[0].ID != aid {
		t.Errorf("AllAliases() = %+v", aliases)
	}
}

func TestResourceURLsByPrefix(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	urls := []string{
		"https://example.com/a",
		"https://example.com/a/b",
		"https://example.com/b",
	}
	for _, u := range urls {
		if _, err := s.CreateResource(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ResourceURLsByPrefix(ctx, "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("ResourceURLsByPrefix() len = %d, want 2 (%+v)", len(got), got)
	}
}
