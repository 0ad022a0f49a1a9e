package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"storefront_pay_echo/internal/models"
	"storefront_pay_echo/internal/services"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Server base URL")
	mode := flag.String("mode", "bank", "Callback mode: bank (reference confirmation) or midtrans (signed notification)")
	ref1 := flag.String("ref1", "", "Payment ref1 (mandatory)")
	ref2 := flag.String("ref2", "", "Payment ref2 (mandatory)")
	ref3 := flag.String("ref3", "", "Payment ref3 (optional in bank mode)")
	amount := flag.Int64("amount", 0, "Amount in minor units (bank) or whole units (midtrans)")
	status := flag.String("status", "settlement", "Midtrans transaction_status")
	serverKey := flag.String("server-key", "", "Midtrans server key (default MIDTRANS_SERVER_KEY)")
	flag.Parse()

	if *ref1 == "" || *ref2 == "" {
		fmt.Println("Usage: mockwebhook -ref1 <ref1> -ref2 <ref2> [-ref3 <ref3>] [-mode bank|midtrans] [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found")
	}

	refs := models.Refs{Ref1: *ref1, Ref2: *ref2, Ref3: *ref3}.Normalize()
	now := time.Now()

	var path string
	var payload interface{}
	switch *mode {
	case "bank":
		path = "/api/payment/callback/confirm"
		payload = map[string]string{
			"billPaymentRef1":        refs.Ref1,
			"billPaymentRef2":        refs.Ref2,
			"billPaymentRef3":        refs.Ref3,
			"transactionId":          uuid.NewString(),
			"amount":                 services.FormatMinorUnits(*amount),
			"transactionDateandTime": now.Format(time.RFC3339),
		}
	case "midtrans":
		key := *serverKey
		if key == "" {
			key = os.Getenv("MIDTRANS_SERVER_KEY")
		}
		if key == "" {
			log.Fatal("midtrans mode needs -server-key or MIDTRANS_SERVER_KEY")
		}
		if refs.Ref3 == "" {
			log.Fatal("midtrans mode needs -ref3")
		}
		n := services.MidtransNotification{
			TransactionTime:   now.Format("2006-01-02 15:04:05"),
			TransactionStatus: *status,
			TransactionID:     uuid.NewString(),
			StatusMessage:     "midtrans payment notification",
			StatusCode:        "200",
			PaymentType:       "qris",
			OrderID:           services.MidtransOrderID(refs),
			GrossAmount:       strconv.FormatInt(*amount, 10) + ".00",
			Currency:          "IDR",
		}
		n.SignatureKey = services.MidtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, key)
		path = "/api/payment/checkpayment"
		payload = n
	default:
		log.Fatalf("Unknown mode %q", *mode)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("Failed to encode payload: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, *baseURL+path, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	rid := uuid.NewString()
	req.Header.Set("X-Request-ID", rid)

	log.Printf("POST %s (request id %s)\n%s", path, rid, body)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	log.Printf("%s\n%s", resp.Status, respBody)
	if resp.StatusCode >= 300 {
		os.Exit(1)
	}
}
