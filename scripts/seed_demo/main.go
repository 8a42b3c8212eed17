package main

import (
	"fmt"
	"log"

	"github.com/pagedeck/internal/config"
	"github.com/pagedeck/internal/db"
	"github.com/pagedeck/internal/service"
)

// 演示数据生成器：创建几个匿名草稿页面并发布其中一部分。
func main() {
	cfg := config.Load()
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	owners := service.NewOwnershipService(db.DB)
	pages := service.NewPageService(db.DB, owners)
	publisher := service.NewPublishService(db.DB, owners, nil)

	fmt.Println("开始生成演示数据...")

	seeds := []struct {
		token   string
		title   string
		content string
		slug    string // 为空表示只留草稿
	}{
		{
			token:   "demo-token-1",
			title:   "Demo Portfolio",
			content: `{"blocks":[{"type":"text","markdown":"# 你好\n这是一个演示页面"},{"type":"link","url":"https://example.com","label":"我的项目"}]}`,
			slug:    "demo",
		},
		{
			token:   "demo-token-2",
			title:   "Work In Progress",
			content: `{"blocks":[{"type":"text","markdown":"草稿还没写完"}]}`,
		},
		{
			token:   "demo-token-3",
			title:   "Photo Wall",
			content: `{"blocks":[{"type":"image","url":"https://picsum.photos/800/600","alt":"示例图片"}],"background":"#f5f5f5"}`,
			slug:    "photos",
		},
	}

	published := 0
	for _, seed := range seeds {
		cred := service.OwnerCredential{OwnerToken: seed.token}

		page, err := pages.Create(cred, seed.title, seed.content)
		if err != nil {
			log.Fatalf("创建页面 %s 失败: %v", seed.title, err)
		}

		if seed.slug == "" {
			continue
		}

		if _, err := publisher.Publish(page.PublicID, cred, seed.slug); err != nil {
			log.Fatalf("发布页面 %s 失败: %v", seed.slug, err)
		}
		published++
	}

	fmt.Println("演示数据生成完成！")
	fmt.Printf("页面: %d 个草稿，其中 %d 个已发布\n", len(seeds), published)
}
