package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"essay-grader/internal/models"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// apiClient talks to a running essay-grader server
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func (c *apiClient) submit(ctx context.Context, images []string, prompt string) (*models.TaskResponse, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, p := range images {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		fw, err := w.CreateFormFile("images", filepath.Base(p))
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
	}
	if prompt != "" {
		if err := w.WriteField("prompt", prompt); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/essays", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp models.TaskResponse
	if err := c.do(req, http.StatusAccepted, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) status(ctx context.Context, taskID string) (*models.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/essays/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	var resp models.StatusResponse
	if err := c.do(req, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) do(req *http.Request, want int, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.Unmarshal(data, out)
}

// waitFor polls until the task reaches a terminal status
func (c *apiClient) waitFor(ctx context.Context, taskID string, interval time.Duration) (*models.StatusResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.status(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if models.TaskStatus(st.Status).IsTerminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

type submitResult struct {
	taskID  string
	status  string
	err     error
	elapsed time.Duration
}

func newSubmitCmd() *cobra.Command {
	var (
		server   string
		token    string
		images   []string
		prompt   string
		wait     bool
		count    int
		interval time.Duration
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit essays to a running server",
		Long: `Upload essay images to the API. With --count N the same essay is
submitted N times concurrently, and with --wait every task is polled until it
completes or fails. Together they work as a small load test.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(images) == 0 {
				return fmt.Errorf("at least one --images path is required")
			}
			if count < 1 {
				count = 1
			}
			client := &apiClient{
				baseURL: strings.TrimRight(server, "/"),
				token:   token,
				http:    &http.Client{Timeout: 60 * time.Second},
			}

			ctx, cancel := withTimeout(cmd.Context(), timeout)
			defer cancel()

			results := make([]submitResult, count)
			var wg sync.WaitGroup
			for i := 0; i < count; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					start := time.Now()
					res := &results[i]

					task, err := client.submit(ctx, images, prompt)
					if err != nil {
						res.err = err
						return
					}
					res.taskID, res.status = task.TaskID, task.Status
					log.WithField("task_id", task.TaskID).Info("submitted")

					if wait {
						st, err := client.waitFor(ctx, task.TaskID, interval)
						if err != nil {
							res.err = err
							return
						}
						res.status = st.Status
						if st.Error != "" {
							res.err = fmt.Errorf("%s", st.Error)
						}
					}
					res.elapsed = time.Since(start)
				}(i)
			}
			wg.Wait()

			return summarize(results)
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8085", "API base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("ESSAY_TOKEN"), "bearer token when billing is enabled")
	cmd.Flags().StringSliceVar(&images, "images", nil, "essay page images, in order")
	cmd.Flags().StringVar(&prompt, "prompt", "", "essay prompt or context")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll each task until it finishes")
	cmd.Flags().IntVar(&count, "count", 1, "number of concurrent submissions")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Minute, "overall timeout")
	return cmd
}

func summarize(results []submitResult) error {
	counts := map[string]int{}
	var total time.Duration
	var timed int
	for _, r := range results {
		switch {
		case r.err != nil && r.taskID == "":
			counts["error"]++
			fmt.Printf("-                                     error      %v\n", r.err)
		case r.err != nil:
			counts[r.status]++
			fmt.Printf("%s  %-10s %v\n", r.taskID, r.status, r.err)
		default:
			counts[r.status]++
			fmt.Printf("%s  %-10s %s\n", r.taskID, r.status, r.elapsed.Round(time.Millisecond))
			if r.elapsed > 0 {
				total += r.elapsed
				timed++
			}
		}
	}

	fmt.Printf("\n%d submitted: %d queued, %d completed, %d failed, %d errors\n",
		len(results), counts["queued"], counts["completed"], counts["failed"], counts["error"])
	if timed > 0 {
		fmt.Printf("average latency: %s\n", (total / time.Duration(timed)).Round(time.Millisecond))
	}
	if counts["error"] > 0 || counts["failed"] > 0 {
		return fmt.Errorf("%d of %d submissions did not succeed", counts["error"]+counts["failed"], len(results))
	}
	return nil
}
