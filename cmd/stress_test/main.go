package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rl1809/storefront/internal/auth"
	"github.com/rl1809/storefront/internal/core/domain"
)

type product struct {
	ID            int64  `json:"id"`
	StockQuantity int    `json:"stock_quantity"`
	Version       int64  `json:"version"`
	Price         string `json:"price"`
}

type apiError struct {
	Message string `json:"message"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "storefront HTTP address")
	secret := flag.String("secret", os.Getenv("STOREFRONT_AUTH_JWT_SECRET"), "JWT signing secret of the server")
	initialStock := flag.Int("stock", 20, "units of the contested product")
	totalRequests := flag.Int("buyers", 50, "concurrent buyers, one unit each")
	flag.Parse()

	if *secret == "" {
		log.Fatal("secret is required (-secret or STOREFRONT_AUTH_JWT_SECRET)")
	}

	client := resty.New().
		SetBaseURL(*baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")

	bearer := func(c domain.Customer) string {
		tok, err := auth.Issue(*secret, c, time.Hour)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		return "Bearer " + tok
	}

	// Seed the contested product
	var created product
	resp, err := client.R().
		SetHeader("Authorization", bearer(domain.Customer{ID: 1, Email: "admin@example.com", Role: domain.RoleAdmin})).
		SetBody(map[string]any{"name": "flash-sale-item", "price": "9.99", "stock_quantity": *initialStock}).
		SetResult(&created).
		Post("/products")
	if err != nil {
		log.Fatalf("create product: %v", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		log.Fatalf("create product: %s", resp.String())
	}

	// Fill one cart per buyer
	buyers := make([]string, *totalRequests)
	for i := range buyers {
		buyers[i] = bearer(domain.Customer{ID: int64(1000 + i), Email: fmt.Sprintf("buyer-%d@example.com", i), Role: domain.RoleCustomer})
		resp, err := client.R().
			SetHeader("Authorization", buyers[i]).
			SetBody(map[string]any{"product_id": created.ID, "quantity": 1}).
			Post("/cart/items")
		if err != nil {
			log.Fatalf("fill cart %d: %v", i, err)
		}
		if resp.IsError() {
			log.Fatalf("fill cart %d: %s", i, resp.String())
		}
	}

	// Counters
	var successCount, conflictCount, soldOutCount, otherCount atomic.Int32

	// Spawn concurrent checkouts
	var wg sync.WaitGroup
	start := time.Now()

	for _, authz := range buyers {
		wg.Add(1)
		go func(authz string) {
			defer wg.Done()

			resp, err := client.R().
				SetHeader("Authorization", authz).
				SetError(&apiError{}).
				Post("/orders")
			switch {
			case err != nil:
				otherCount.Add(1)
			case resp.StatusCode() == http.StatusOK:
				successCount.Add(1)
			case resp.StatusCode() == http.StatusConflict:
				conflictCount.Add(1)
			case resp.StatusCode() == http.StatusBadRequest:
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}(authz)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Read back the stock
	var listing []product
	resp, err = client.R().SetResult(&listing).Get("/products")
	if err != nil {
		log.Fatalf("list products: %v", err)
	}
	if resp.IsError() {
		log.Fatalf("list products: %s", resp.String())
	}
	finalStock := -1
	for _, p := range listing {
		if p.ID == created.ID {
			finalStock = p.StockQuantity
		}
	}

	// Results
	success := int(successCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Confirmed:        %d\n", success)
	fmt.Printf("Stock changed:    %d\n", conflictCount.Load())
	fmt.Printf("Out of stock:     %d\n", soldOutCount.Load())
	fmt.Printf("Other errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Printf("Final Stock:      %d\n", finalStock)
	fmt.Println("==========================================")

	// Assertions
	failed := false
	if success > *initialStock {
		fmt.Printf("FAIL: oversold, %d orders for %d units\n", success, *initialStock)
		failed = true
	}
	if finalStock != *initialStock-success {
		fmt.Printf("FAIL: expected stock %d, got %d\n", *initialStock-success, finalStock)
		failed = true
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("PASS: stock matches confirmed orders and never went negative")
}
