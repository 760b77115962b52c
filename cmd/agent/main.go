// Command agent is a minimal paying client. It calls a paid URL, reads the
// x402 challenge and its bazaar metadata, signs a development proof with
// AGENT_PRIVATE_KEY and retries with PAYMENT-SIGNATURE.
//
//	AGENT_PRIVATE_KEY=<hex> agent -url http://localhost:8080/api/joke
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/andrewreder/x402-marketplace/authority"
	"github.com/andrewreder/x402-marketplace/x402"
)

func main() {
	target := flag.String("url", "http://localhost:8080/api/joke", "paid resource to call")
	method := flag.String("method", http.MethodGet, "HTTP method")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	if err := run(*target, strings.ToUpper(*method), *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
}

func run(target, method string, timeout time.Duration) error {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(os.Getenv("AGENT_PRIVATE_KEY"), "0x"))
	if err != nil {
		return fmt.Errorf("AGENT_PRIVATE_KEY: %w", err)
	}
	fmt.Printf("payer: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client := &http.Client{}

	resp, body, err := call(ctx, client, method, target, "")
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		fmt.Printf("resource answered %d without asking for payment:\n%s\n", resp.StatusCode, body)
		return nil
	}

	challenge, err := readChallenge(resp, body)
	if err != nil {
		return err
	}
	if ext, ok := challenge.Extensions.Discovery(); ok {
		pretty, _ := json.MarshalIndent(ext, "", "  ")
		fmt.Printf("bazaar metadata:\n%s\n", pretty)
	}

	proof, err := authority.PrepareProof(key, challenge, method, time.Now())
	if err != nil {
		return fmt.Errorf("prepare proof: %w", err)
	}

	resp, body, err = call(ctx, client, method, target, proof)
	if err != nil {
		return err
	}
	fmt.Printf("status: %d\n", resp.StatusCode)
	if receipt := resp.Header.Get(x402.HeaderPaymentResponse); receipt != "" {
		if decoded, err := base64.StdEncoding.DecodeString(receipt); err == nil {
			fmt.Printf("receipt: %s\n", decoded)
		}
	}
	fmt.Printf("%s\n", body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("payment was not accepted (status %d)", resp.StatusCode)
	}
	return nil
}

func call(ctx context.Context, client *http.Client, method, target, proof string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if proof != "" {
		req.Header.Set(x402.HeaderPaymentSignature, proof)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp, body, nil
}

// readChallenge prefers the PAYMENT-REQUIRED header and falls back to the body.
func readChallenge(resp *http.Response, body []byte) (*x402.Challenge, error) {
	if header := resp.Header.Get(x402.HeaderPaymentRequired); header != "" {
		return x402.DecodeChallenge(header)
	}
	if len(body) == 0 {
		return nil, errors.New("402 without a challenge")
	}
	return x402.ParseChallenge(body)
}
