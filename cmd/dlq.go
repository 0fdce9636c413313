package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"soniq/broker"
	"soniq/config"

	"github.com/spf13/cobra"
)

var dlqCount int64

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "查看死信队列",
	Long:  `列出最近进入死信流的事件，包含原始payload、错误信息和重试次数，用于排查和重放。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		client, err := broker.Connect(cfg)
		if err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		records, err := broker.ReadDeadLetters(ctx, client, cfg.DeadLetterTopic, dlqCount)
		if err != nil {
			log.Fatalf("读取死信流失败: %v", err)
		}

		if len(records) == 0 {
			fmt.Println("死信流为空。")
			return
		}

		for i, rec := range records {
			fmt.Printf("--- [%d] %s ---\n", i+1, rec.FailedAt.Format(time.RFC3339))
			fmt.Printf("  topic: %s  key: %s  retries: %d\n", rec.OriginalTopic, rec.OriginalKey, rec.RetryCount)
			fmt.Printf("  error: %s\n", rec.ErrorMessage)
			if rec.ErrorDetail != "" {
				fmt.Printf("  detail: %s\n", rec.ErrorDetail)
			}
			fmt.Printf("  payload: %s\n", string(rec.Payload))
		}
	},
}

func init() {
	dlqCmd.Flags().Int64Var(&dlqCount, "count", 20, "显示的记录条数")
	rootCmd.AddCommand(dlqCmd)
}
