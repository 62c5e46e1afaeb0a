// Command ordersync logs in to the order backend, follows order-updated
// notifications and prints the reconciled order list whenever it changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"clinicstock/backend/internal/client"
	"clinicstock/backend/internal/config"
	"clinicstock/backend/internal/domain"
	"clinicstock/backend/internal/events"
	"clinicstock/backend/internal/reconcile"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}

	apiURL := flag.String("api", "http://127.0.0.1:8080", "backend base URL")
	username := flag.String("user", "admin", "username")
	status := flag.String("status", "", "only show orders with this status")
	supplierID := flag.Int64("supplier", 0, "only show orders from this supplier id")
	search := flag.String("search", "", "receipt, description or supplier text filter")
	page := flag.Int("page", 1, "page to follow")
	pageSize := flag.Int("page-size", 20, "orders per page")
	flag.Parse()

	password := os.Getenv("CLINIC_PASSWORD")
	if password == "" {
		log.Fatal("CLINIC_PASSWORD must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(*apiURL, client.Options{})
	loginCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	_, err := api.Login(loginCtx, *username, password)
	cancel()
	if err != nil {
		log.Fatalf("login: %v", err)
	}

	query := domain.OrderQuery{
		Status:     domain.OrderStatus(*status),
		SupplierID: *supplierID,
		Search:     *search,
		Page:       *page,
		PageSize:   *pageSize,
	}

	out := os.Stdout
	coll := client.NewCollection(client.CollectionOptions[domain.Order]{
		Topic: events.TopicOrders,
		Match: reconcile.OrderFilter(query),
		ID:    reconcile.OrderID,
		Page:  query.Page,
		Fetch: func(ctx context.Context) ([]domain.Order, error) {
			result, err := api.ListOrders(ctx, query)
			return result.Orders, err
		},
		Stats: func(ctx context.Context) error {
			stats, err := api.OrderStats(ctx)
			if err != nil {
				return err
			}
			printStats(out, stats)
			return nil
		},
		OnChange: func(orders []domain.Order) {
			printOrders(out, orders)
		},
	})

	conn := client.NewConn(socketURL(*apiURL), client.ConnOptions{Token: api.Token})
	if err := conn.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Disconnect()
	if err := conn.Subscribe(ctx, events.TopicOrders); err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	if err := coll.Run(ctx, conn.Notifications()); err != nil && ctx.Err() == nil {
		log.Printf("ordersync stopped: %v", err)
	}
	coll.WaitStats()
}

func socketURL(apiURL string) string {
	base := strings.TrimRight(apiURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func printOrders(w io.Writer, orders []domain.Order) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\n%s  %d orders\n", time.Now().Format("15:04:05"), len(orders))
	fmt.Fprintln(tw, "ID\tSTATUS\tSUPPLIER\tRECEIPT\tTOTAL\tITEMS")
	for _, o := range orders {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", o.ID, o.Status, o.SupplierName, o.ReceiptNumber, o.TotalPrice.StringFixed(2), itemSummary(o.Items))
	}
	_ = tw.Flush()
}

func itemSummary(items []domain.OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		part := fmt.Sprintf("%s x%d %s", item.ProductName, item.OrderedQty, item.Status)
		if item.RefundedQty > 0 {
			part += fmt.Sprintf(" (-%d)", item.RefundedQty)
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

func printStats(w io.Writer, s domain.OrderStats) {
	fmt.Fprintf(w, "stats: total=%d ordered=%d partial=%d completed=%d cancelled=%d pending_items=%d returned_units=%d spent=%s\n",
		s.TotalOrders, s.OrderedOrders, s.PartiallyReceived, s.CompletedOrders, s.CancelledOrders, s.PendingItems, s.ReturnedUnits, s.TotalSpent.StringFixed(2))
}
