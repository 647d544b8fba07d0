package main

import (
	"github.com/guardianbridge/guardianbridge/cmd"
)

// 主程序
func main() {
	cmd.Execute()
}
