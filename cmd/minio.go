package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"soniq/config"
	"soniq/logger"
	"soniq/storage"

	"github.com/spf13/cobra"
)

var minioStatKey string

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO连接测试",
	Long:  `测试对象存储连接，确认存储桶可用，可选查看指定对象的信息。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		cfg := config.Load()
		logger.InitLogger(logger.Config{Level: cfg.LogLevel})
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.InitMinio(cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		if minioStatKey != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			info, err := store.StatObject(ctx, minioStatKey)
			if err != nil {
				log.Fatalf("查询对象失败: %v", err)
			}
			fmt.Printf("对象: %s\n  大小: %d bytes\n  类型: %s\n  修改时间: %s\n",
				info.Key, info.Size, info.ContentType, info.LastModified)
		}
	},
}

func init() {
	minioCmd.Flags().StringVar(&minioStatKey, "stat", "", "查看指定对象的信息")
	rootCmd.AddCommand(minioCmd)
}
