package orchestrator

import (
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/cascade/pkg/models"
)

func testRoles() []models.RoleDefinition {
	return []models.RoleDefinition{
		{RoleName: "Data Analyst", PromptText: "analyst prompt"},
		{RoleName: "Senior Data Analyst", PromptText: "senior prompt"},
		{RoleName: "Writer", PromptText: "writer prompt"},
	}
}

func TestRoleBook_Lookup(t *testing.T) {
	book := NewRoleBook(testRoles(), false)

	tests := []struct {
		name   string
		lookup string
		want   string
	}{
		{"exact name", "Writer", "writer prompt"},
		{"key", "data-analyst", "analyst prompt"},
		{"case insensitive", "senior data analyst", "senior prompt"},
		{"punctuation via key", "Data  Analyst!", "analyst prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role, err := book.Lookup(tt.lookup)
			if err != nil {
				t.Fatalf("Lookup(%q) failed: %v", tt.lookup, err)
			}
			if role.PromptText != tt.want {
				t.Errorf("Lookup(%q) = %q, want %q", tt.lookup, role.PromptText, tt.want)
			}
		})
	}
}

func TestRoleBook_NotFoundReportsSimilar(t *testing.T) {
	book := NewRoleBook(testRoles(), false)

	_, err := book.Lookup("Analyst")
	if !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "role 'Analyst' not found") {
		t.Errorf("message = %q", msg)
	}
	if !strings.Contains(msg, "Data Analyst") || !strings.Contains(msg, "Senior Data Analyst") {
		t.Errorf("message should list similar roles: %q", msg)
	}

	_, err = book.Lookup("Chef")
	if err == nil || err.Error() != "role 'Chef' not found" {
		t.Errorf("err = %v", err)
	}
}

func TestRoleBook_FuzzyMatch(t *testing.T) {
	book := NewRoleBook(testRoles(), true)

	role, err := book.Lookup("Analyst")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if role.RoleName != "Data Analyst" {
		t.Errorf("fuzzy match = %q, want first overlapping role", role.RoleName)
	}

	// Contained in the other direction.
	role, err = book.Lookup("Lead Writer for docs")
	if err != nil || role.RoleName != "Writer" {
		t.Errorf("Lookup = %+v, %v", role, err)
	}

	if _, err := book.Lookup(""); err == nil {
		t.Error("empty name should not match")
	}
}

func TestRoleBook_FirstDefinitionWins(t *testing.T) {
	book := NewRoleBook([]models.RoleDefinition{
		{RoleName: "Writer", PromptText: "first"},
		{RoleName: "writer", PromptText: "second"},
	}, false)
	if book.Len() != 1 {
		t.Errorf("Len = %d, want 1", book.Len())
	}
	role, _ := book.Lookup("WRITER")
	if role.PromptText != "first" {
		t.Errorf("PromptText = %q", role.PromptText)
	}
}

func TestRoleBook_Nil(t *testing.T) {
	var book *RoleBook
	if book.Len() != 0 || len(book.Names()) != 0 {
		t.Error("nil book should be empty")
	}
	if _, err := book.Lookup("x"); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("err = %v", err)
	}
}
