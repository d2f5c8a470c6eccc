package firestore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/mediashop/api/internal/platform/config"
)

func TestProviderDatabaseID(t *testing.T) {
	if got := NewProvider(config.FirestoreConfig{}).DatabaseID(); got != firestore.DefaultDatabaseID {
		t.Fatalf("expected default database, got %q", got)
	}
	if got := NewProvider(config.FirestoreConfig{DatabaseID: " orders "}).DatabaseID(); got != "orders" {
		t.Fatalf("expected trimmed database id, got %q", got)
	}
}

func TestProviderClientRequiresProjectID(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	t.Setenv(envEmulatorHost, "")

	provider := NewProvider(config.FirestoreConfig{})
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := provider.Client(context.Background()); !errors.Is(err, ErrProjectIDRequired) {
			t.Fatalf("attempt %d: expected ErrProjectIDRequired, got %v", attempt, err)
		}
	}
}

func TestProviderClosedRejectsClients(t *testing.T) {
	provider := NewProvider(config.FirestoreConfig{ProjectID: "mediashop-test"})
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	err := provider.RunTransaction(context.Background(), func(context.Context, *firestore.Transaction) error { return nil })
	if !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed from RunTransaction, got %v", err)
	}
}

func TestWithCredentialsFileSkipsBlankPath(t *testing.T) {
	provider := NewProvider(config.FirestoreConfig{}, WithCredentialsFile("  "), WithCredentialsFile("/etc/sa.json"))
	if len(provider.clientOpts) != 1 {
		t.Fatalf("expected one client option, got %d", len(provider.clientOpts))
	}
}
