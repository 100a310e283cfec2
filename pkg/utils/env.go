package utils

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv 按环境加载 .env 文件
// 先加载 .env.<env>（如果存在），再加载 .env 作为兜底，已存在的环境变量不会被覆盖
func LoadEnv(env string) error {
	var files []string
	if env != "" {
		candidate := fmt.Sprintf(".env.%s", env)
		if _, err := os.Stat(candidate); err == nil {
			files = append(files, candidate)
		}
	}
	if _, err := os.Stat(".env"); err == nil {
		files = append(files, ".env")
	}
	if len(files) == 0 {
		return fmt.Errorf("no env file found for %q", env)
	}
	return godotenv.Load(files...)
}

// GetEnv 读取环境变量（去除首尾空白）
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetBoolEnv 读取布尔环境变量
func GetBoolEnv(key string) bool {
	return cast.ToBool(GetEnv(key))
}

// GetIntEnv 读取整数环境变量，无法解析时返回 0
func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

// GetFloatEnv 读取浮点环境变量，无法解析时返回 0
func GetFloatEnv(key string) float64 {
	return cast.ToFloat64(GetEnv(key))
}
