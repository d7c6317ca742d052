package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Kind   string
	Err    error
}

type purchaseReq struct {
	SaleID   string `json:"sale_id"`
	UserID   string `json:"user_id"`
	Quantity int64  `json:"quantity"`
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	saleID := flag.String("sale", "", "flash sale id (required)")
	adminToken := flag.String("admin-token", "", "admin token for start/reconcile endpoints")
	start := flag.Bool("start", false, "start the sale before the test")
	statusCheck := flag.Bool("status", true, "check sale status after test")

	// 超卖测试参数：N 个用户并发抢
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	qty := flag.Int64("qty", 1, "units per purchase")
	flag.Parse()

	if *saleID == "" {
		fmt.Println("-sale is required")
		return
	}
	client := &http.Client{Timeout: 5 * time.Second}
	headers := map[string]string{"X-Admin-Token": *adminToken}

	if *start {
		if err := doPOST(client, fmt.Sprintf("%s/api/flash-sales/%s/start", *baseURL, *saleID), nil, headers); err != nil {
			panic(fmt.Sprintf("start sale failed: %v", err))
		}
		fmt.Println("sale started")
	}

	before, err := getStatus(client, *baseURL, *saleID)
	if err != nil {
		panic(fmt.Sprintf("read status failed: %v", err))
	}

	// 1) 不超卖测试：不同 user 并发
	fmt.Printf("start oversell test: sale=%s users=%d concurrency=%d qty=%d\n", *saleID, *nUsers, *concurrency, *qty)
	results := runBuy(client, *baseURL, *nUsers, *concurrency, func(idx int) purchaseReq {
		return purchaseReq{SaleID: *saleID, UserID: fmt.Sprintf("load-%d", idx+1), Quantity: *qty}
	})
	sold := printSummary("oversell", results)

	if *statusCheck {
		// 先对账，确保读到的缓存与账本一致
		_ = doPOST(client, fmt.Sprintf("%s/api/flash-sales/%s/reconcile", *baseURL, *saleID), nil, headers)
		after, err := getStatus(client, *baseURL, *saleID)
		if err != nil {
			fmt.Println("status check err:", err)
		} else {
			fmt.Printf("inventory before=%d after=%d sold_units=%d status=%s\n",
				before.CurrentInventory, after.CurrentInventory, sold*(*qty), after.Status)
			if before.CurrentInventory-after.CurrentInventory != sold*(*qty) {
				fmt.Println("MISMATCH: inventory delta does not match successful purchases")
			}
			if after.CurrentInventory < 0 {
				fmt.Println("OVERSOLD: inventory below zero")
			}
		}
	}

	// 2) 限流测试：同一个 user 重复抢（更容易触发 429）
	// 默认限流是 1000/s，很难触发；可临时设置 BUY_RATE_LIMIT=5 再测
	fmt.Println("\nstart rate limit test: same user, 50 requests, concurrency 50")
	results2 := runBuy(client, *baseURL, 50, 50, func(int) purchaseReq {
		return purchaseReq{SaleID: *saleID, UserID: "load-same-user", Quantity: 1}
	})
	printSummary("rate_limit", results2)
}

func runBuy(client *http.Client, baseURL string, total, concurrency int, build func(idx int) purchaseReq) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = buyOnce(client, baseURL, build(idx))
		}(i)
	}

	wg.Wait()
	return results
}

func buyOnce(client *http.Client, baseURL string, req purchaseReq) Result {
	b, _ := json.Marshal(req)
	url := fmt.Sprintf("%s/api/purchase", baseURL)
	httpReq, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var env struct {
		Kind string `json:"kind"`
	}
	_ = json.Unmarshal(body, &env)
	return Result{Status: resp.StatusCode, Kind: env.Kind}
}

// printSummary 聚合输出不同状态码与错误类别分布，返回成功数。
func printSummary(name string, results []Result) int64 {
	count := map[string]int{}
	errCount := 0
	var okCount int64
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		if r.Status == http.StatusOK {
			okCount++
		}
		count[fmt.Sprintf("%d %s", r.Status, r.Kind)]++
	}
	fmt.Printf("[%s] http status summary:\n", name)
	for k, v := range count {
		fmt.Printf("  %s -> %d\n", k, v)
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
	return okCount
}

// doPOST 发送 POST 请求（支持附加请求头）。
func doPOST(client *http.Client, url string, body any, headers map[string]string) error {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(http.MethodPost, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

type saleStatus struct {
	CurrentInventory int64  `json:"currentInventory"`
	Status           string `json:"status"`
}

// getStatus 查询活动当前库存，用于压测后校验是否出现超卖。
func getStatus(client *http.Client, baseURL, saleID string) (saleStatus, error) {
	url := fmt.Sprintf("%s/api/flash-sales/%s", baseURL, saleID)
	resp, err := client.Get(url)
	if err != nil {
		return saleStatus{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return saleStatus{}, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(b))
	}

	var out struct {
		Code int        `json:"code"`
		Data saleStatus `json:"data"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return saleStatus{}, err
	}
	return out.Data, nil
}
