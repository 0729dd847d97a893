package main

import (
	"fmt"

	"github.com/any-hub/assetcache/internal/store"
	"github.com/any-hub/assetcache/internal/version"
)

// printVersion 输出版本、提交信息与存储 schema 版本；schema 不一致的旧存储会拒绝打开。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintf(stdOut, "store schema v%d\n", store.SchemaVersion)
}
