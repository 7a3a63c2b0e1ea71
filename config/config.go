package config

import (
    "log"
    "os"

    "gopkg.in/yaml.v2"
)

type Config struct {
    Server struct {
        Port string `yaml:"port"`
    } `yaml:"server"`
    MySQL struct {
        DSN string `yaml:"dsn"`
    } `yaml:"mysql"`

    Redis struct {
        Addr     string `yaml:"addr"`
        Password string `yaml:"password"`
    } `yaml:"redis"`
    // Worker 外部生成服务（剧本/分镜/镜头表生成 + 判定调用都发往这里）
    Worker struct {
        Addr                   string `yaml:"addr"`
        GenerateTimeoutMinutes int    `yaml:"generate_timeout_minutes"`
        PollIntervalSeconds    int    `yaml:"poll_interval_seconds"`
    } `yaml:"worker"`
    // Analyzer 变更分析阈值（0~1 比例）
    Analyzer struct {
        MinorThreshold    float64 `yaml:"minor_threshold"`
        FallbackThreshold float64 `yaml:"fallback_threshold"`
    } `yaml:"analyzer"`
    MinIO struct {
        Endpoint  string `yaml:"endpoint"`
        AccessKey string `yaml:"access_key"`
        SecretKey string `yaml:"secret_key"`
        Bucket    string `yaml:"bucket"`
        UseSSL    bool   `yaml:"use_ssl"`
        Domain    string `yaml:"domain"`
    } `yaml:"minio"`
}

var AppConfig *Config

func InitConfig() {
    f, err := os.Open("config/config.yaml")
    if err != nil {
        log.Fatalf("配置文件读取失败: %v", err)
    }
    defer f.Close()
    decoder := yaml.NewDecoder(f)
    AppConfig = &Config{}
    if err := decoder.Decode(AppConfig); err != nil {
        log.Fatalf("配置文件解析失败: %v", err)
    }

    // 缺省值
    if AppConfig.Worker.GenerateTimeoutMinutes <= 0 {
        AppConfig.Worker.GenerateTimeoutMinutes = 20
    }
    if AppConfig.Worker.PollIntervalSeconds <= 0 {
        AppConfig.Worker.PollIntervalSeconds = 3
    }
    if AppConfig.Analyzer.MinorThreshold <= 0 {
        AppConfig.Analyzer.MinorThreshold = 0.03
    }
    if AppConfig.Analyzer.FallbackThreshold <= 0 {
        AppConfig.Analyzer.FallbackThreshold = 0.15
    }
}
