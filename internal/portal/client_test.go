package portal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func memberServer(t *testing.T) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var patches []map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("GET /members/{key}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "sk_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.PathValue("key") != "jo@example.com" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "mem_123"},
		})
	})
	mux.HandleFunc("PATCH /members/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body["_member_id"] = r.PathValue("id")
		patches = append(patches, body)
		json.NewEncoder(w).Encode(map[string]any{"id": r.PathValue("id")})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &patches
}

func TestFindMemberID(t *testing.T) {
	srv, _ := memberServer(t)
	client := NewClient(srv.URL, "sk_test")

	id, err := client.FindMemberID(context.Background(), "jo@example.com")
	if err != nil {
		t.Fatalf("FindMemberID failed: %v", err)
	}
	if id != "mem_123" {
		t.Errorf("expected mem_123, got %q", id)
	}
}

func TestFindMemberIDUnknown(t *testing.T) {
	srv, _ := memberServer(t)
	client := NewClient(srv.URL, "sk_test")

	id, err := client.FindMemberID(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("FindMemberID failed: %v", err)
	}
	if id != "" {
		t.Errorf("unknown member should yield empty id, got %q", id)
	}
}

func TestUpdateMember(t *testing.T) {
	srv, patches := memberServer(t)
	client := NewClient(srv.URL, "sk_test")

	id, err := client.UpdateMember(context.Background(), "jo@example.com", MemberFields{
		FirstName:  "Jo",
		LastName:   "Park",
		JobTitle:   "Ops Manager",
		AmazonSite: "Amazon ABQ1",
	})
	if err != nil {
		t.Fatalf("UpdateMember failed: %v", err)
	}
	if id != "mem_123" {
		t.Errorf("expected mem_123, got %q", id)
	}

	if len(*patches) != 1 {
		t.Fatalf("expected one patch, got %d", len(*patches))
	}
	patch := (*patches)[0]
	if patch["_member_id"] != "mem_123" {
		t.Errorf("patch sent to wrong member: %v", patch["_member_id"])
	}
	fields, ok := patch["customFields"].(map[string]any)
	if !ok {
		t.Fatalf("customFields missing: %v", patch)
	}
	if fields["first-name"] != "Jo" || fields["amazon-site"] != "Amazon ABQ1" {
		t.Errorf("unexpected custom fields: %v", fields)
	}
}

func TestUpdateMemberUnknown(t *testing.T) {
	srv, _ := memberServer(t)
	client := NewClient(srv.URL, "sk_test")

	if _, err := client.UpdateMember(context.Background(), "nobody@example.com", MemberFields{}); err == nil {
		t.Fatal("expected an error for an unknown member")
	}
}

func TestBadAPIKey(t *testing.T) {
	srv, _ := memberServer(t)
	client := NewClient(srv.URL, "wrong")

	if _, err := client.FindMemberID(context.Background(), "jo@example.com"); err == nil {
		t.Fatal("expected an error for a rejected key")
	}
}
