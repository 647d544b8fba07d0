package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/guardianbridge/guardianbridge/config"
	"github.com/guardianbridge/guardianbridge/share"
)

var envFile string

var lang = os.Getenv("GB_LANG")
var langs = map[string]string{
	"Start the proxy":                       "启动代理服务",
	"Train a moderation profile":            "训练审核画像模型",
	"Show version":                          "显示当前版本号",
	"Environment file":                      "指定环境变量文件",
	"One or more arguments are not correct": "参数错误",
	"Service stopped":                       "服务已关闭",
	"Print all version information":         "显示完整版本信息",
}

// L 多语言切换
func L(words string) string {
	if lang == "" {
		return words
	}

	if trans, has := langs[words]; has {
		return trans
	}
	return words
}

var rootCmd = &cobra.Command{
	Use:   share.BUILDNAME,
	Short: "GuardianBridge LLM Proxy",
	Long:  `GuardianBridge LLM Proxy`,
	Args:  cobra.MinimumNArgs(1),
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(os.Stderr, L("One or more arguments are not correct"), args)
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(
		versionCmd,
		startCmd,
		trainCmd,
	)
	rootCmd.PersistentFlags().StringVarP(&envFile, "env", "e", "", L("Environment file"))
}

// Execute 运行Root
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Boot 设定配置
func Boot() {
	if envFile != "" {
		config.Conf = config.LoadFrom(envFile)
	}
	if config.Conf.Mode == "development" {
		config.Development()
	} else {
		config.Production()
	}
}
