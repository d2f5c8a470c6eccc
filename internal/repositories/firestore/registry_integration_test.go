//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/mediashop/api/internal/domain"
	pconfig "github.com/mediashop/api/internal/platform/config"
	pfirestore "github.com/mediashop/api/internal/platform/firestore"
	"github.com/mediashop/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func newEmulatorRegistry(t *testing.T, projectID string) *Registry {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close(context.Background()) })
	return registry
}

func TestCounterRepositoryIntegration(t *testing.T) {
	registry := newEmulatorRegistry(t, "counter-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := registry.Counters().Next(ctx, repositories.OrderNumberCounterID(2026), 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}
}

func TestOrderAndPaymentRepositoriesIntegration(t *testing.T) {
	registry := newEmulatorRegistry(t, "orders-test")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	created := time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID:          "ord_1",
		OrderNumber: "MS-2025-000001",
		CustomerID:  "cust-1",
		Status:      domain.OrderStatusPending,
		Currency:    "VND",
		Items: []domain.OrderItem{
			{ProductID: "book-1", Title: "Dế Mèn phiêu lưu ký", Kind: domain.ProductKindBook, Quantity: 2, UnitPrice: 45000, WeightKg: 0.5, LineTotal: 90000},
		},
		VATRate:   10,
		Totals:    domain.OrderTotals{Subtotal: 90000, VAT: 9000, TotalAfterTax: 99000, DeliveryFee: 22000, GrandTotal: 121000},
		Delivery:  domain.DeliveryInfo{RecipientName: "Nguyễn Văn A", Province: "Hà Nội", Type: domain.DeliveryStandard, Fee: 22000, EstimatedDeliveryAt: created.Add(72 * time.Hour)},
		CreatedAt: created,
		UpdatedAt: created,
	}
	if err := registry.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	txn := domain.PaymentTransaction{
		ID: "01TXN", OrderID: order.ID, Provider: "vnpay", Amount: 121000, Currency: "VND",
		Status: domain.PaymentStatusPending, CreatedAt: created, UpdatedAt: created,
	}
	if err := registry.PaymentTransactions().Insert(ctx, txn); err != nil {
		t.Fatalf("insert transaction: %v", err)
	}

	err := registry.RunInTx(ctx, func(ctx context.Context) error {
		storedTxn, err := registry.PaymentTransactions().FindByID(ctx, txn.ID)
		if err != nil {
			return err
		}
		storedOrder, err := registry.Orders().FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		storedTxn.Status = domain.PaymentStatusSuccess
		if err := registry.PaymentTransactions().Update(ctx, storedTxn); err != nil {
			return err
		}
		storedOrder.Status = domain.OrderStatusConfirmed
		storedOrder.PaidTransactionID = storedTxn.ID
		return registry.Orders().Update(ctx, storedOrder)
	})
	if err != nil {
		t.Fatalf("unit of work: %v", err)
	}

	confirmed, err := registry.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed || confirmed.Version != 2 || len(confirmed.Items) != 1 {
		t.Fatalf("unexpected order after commit: %+v", confirmed)
	}

	stale := confirmed
	stale.Version = 1
	err = registry.Orders().Update(ctx, stale)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}

	pending, err := registry.PaymentTransactions().ListPending(ctx, repositories.PendingPaymentFilter{CreatedBefore: created.Add(time.Hour)})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending transactions, got %d", len(pending))
	}

	page, err := registry.Orders().List(ctx, repositories.OrderListFilter{CustomerID: "cust-1", Pagination: domain.Pagination{PageSize: 10}})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken != "" {
		t.Fatalf("unexpected order page: %+v", page)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skipf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
