package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"soniq/broker"
	"soniq/config"
	"soniq/model"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
)

var redisPublishTest bool

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试事件流Redis连接，可选发布一条测试事件验证消费链路。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始测试Redis连接...")

		cfg := config.Load()
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := broker.Connect(cfg)
		if err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		if redisPublishTest {
			ev := &model.ProcessingEvent{
				TrackID:       ulid.Make().String(),
				UserID:        ulid.Make().String(),
				ObjectKey:     "tracks/test/source",
				MimeType:      "audio/mpeg",
				FileSizeBytes: 0,
				CorrelationID: uuid.NewString(),
				Timestamp:     time.Now(),
				SchemaVersion: model.EventSchemaVersion,
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := broker.PublishEvent(ctx, client, cfg.EventStream, ev); err != nil {
				log.Fatalf("测试事件发布失败: %v", err)
			}
			fmt.Printf("测试事件已发布: trackId=%s\n", ev.TrackID)
		}

		fmt.Println("Redis测试完成，连接已关闭。")
	},
}

func init() {
	redisCmd.Flags().BoolVar(&redisPublishTest, "publish-test-event", false, "发布一条测试处理事件")
	rootCmd.AddCommand(redisCmd)
}
