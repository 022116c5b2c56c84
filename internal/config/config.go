package config

import (
	"encoding/json"
	"os"

	"binance-grid-trader/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}

	if config.QuoteAsset == "" {
		config.QuoteAsset = "USDT"
	}
	if config.SweepIntervalSec <= 0 {
		config.SweepIntervalSec = 60
	}
	if config.ReportIntervalSec <= 0 {
		config.ReportIntervalSec = 30
	}

	return config, nil
}
