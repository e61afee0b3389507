package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	cfgpkg "subtrans/internal/config"
	"subtrans/internal/diag"
	"subtrans/internal/model"
	"subtrans/internal/orchestrator"
	"subtrans/internal/subtitle"
	"subtrans/pkg/contract"
)

// 简化的 CLI：默认子命令 run。
// 位置参数为 roots（文件/目录 或 "-" 表示 STDIN，不能与其他根混用）。
// 全局旗标（最小集）：--config, --llm, --concurrency, --max-chars, --max-retries, --init-config, --status
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := genCorrID()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	// 从配置读取日志级别，仅保留 level 选项；默认 info
	logLevel := "info"
	// 先占位默认，稍后在解析/合并配置后重建 logger 以使用最终 level
	logger := diag.NewLogger(corrID, logLevel)
	// flags
	var (
		flagConfig      string
		flagLLM         string
		flagConcurrency int
		flagMaxChars    int
		flagMaxRetries  int
		flagInitDir     string
		flagStatus      bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	flag.StringVar(&flagLLM, "llm", "", "provider 名称（覆盖配置）")
	flag.IntVar(&flagConcurrency, "concurrency", 0, "并发度（覆盖配置）")
	flag.IntVar(&flagMaxChars, "max-chars", 0, "批次字符预算（覆盖配置）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	flag.IntVar(&flagMaxRetries, "max-retries", -1, "LLM 阶段最大重试次数（覆盖配置；0 表示不重试）")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（不覆盖：config.json 已存在时报错退出，.env 已存在时跳过）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	normalizeInitArg()
	flag.Parse()

	// roots（位置参数）
	roots := flag.Args()

	// --init-config: 生成模板并退出
	var initDir string
	if strings.TrimSpace(flagInitDir) != "" {
		initDir = strings.TrimSpace(flagInitDir)
	}
	if initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		cfg := cfgpkg.DefaultTemplateConfig()
		cfgPath := filepath.Join(initDir, "config.json")
		if err := writeConfig(cfgPath, cfg); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		envPath := filepath.Join(initDir, ".env")
		if err := writeDotEnv(envPath); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return 0
	}

	// JSON 配置（文件或 ENV: LLM_SPT_CONFIG_JSON）
	var cfgJSON []byte
	if s := os.Getenv("LLM_SPT_CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}

	if flagConfig == "" {
		if s := os.Getenv("LLM_SPT_CONFIG_FILE"); s != "" {
			flagConfig = s
		}
	}
	// 默认读取工作目录下 config.json（若存在）
	if flagConfig == "" {
		if _, err := os.Stat("config.json"); err == nil {
			flagConfig = "config.json"
		}
	}

	cfg := cfgpkg.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		base, err := cfgpkg.LoadJSON(flagConfig, cfgJSON)
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	// ENV 覆盖（最小集合）
	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖
	var overCLI cfgpkg.Config
	overCLI.MaxRetries = -1
	if flagLLM != "" {
		overCLI.LLM = flagLLM
	}
	if flagConcurrency > 0 {
		overCLI.Concurrency = flagConcurrency
	}
	if flagMaxChars > 0 {
		overCLI.MaxChars = flagMaxChars
	}
	if flagMaxRetries >= 0 {
		overCLI.MaxRetries = flagMaxRetries
	}
	if len(roots) > 0 {
		overCLI.Inputs = roots
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	// 基本校验
	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(cfg)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	// 使用最终配置中的日志级别重建 logger
	if strings.TrimSpace(cfg.Logging.Level) != "" {
		logLevel = strings.TrimSpace(cfg.Logging.Level)
	}
	logger = diag.NewLogger(corrID, logLevel)

	// 预检：输出目录可写性
	if err := preflightCheckOutputDir(cfg); err != nil {
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	rt, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	defer rt.Close()

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	if term != nil {
		term.RunStart(cfg.Concurrency, cfg.LLM)
	}

	// debug: 输出运行时配置信息（已脱敏）
	if logger != nil {
		kv := map[string]string{
			"inputs_count": fmt.Sprintf("%d", len(cfg.Inputs)),
			"concurrency":  fmt.Sprintf("%d", cfg.Concurrency),
			"max_chars":    fmt.Sprintf("%d", cfg.MaxChars),
			"llm":          cfg.LLM,
			"source_lang":  cfg.SourceLang,
			"target_lang":  cfg.TargetLang,
		}
		if p, ok := cfg.Provider[cfg.LLM]; ok {
			kv["provider_client"] = p.Client
			type small struct {
				BaseURL string `json:"base_url"`
				Model   string `json:"model"`
			}
			var s small
			_ = json.Unmarshal(p.Options, &s)
			if s.BaseURL != "" {
				kv["base_url"] = s.BaseURL
			}
			if s.Model != "" {
				kv["model"] = s.Model
			}
		}
		logger.DebugStart("config", "effective", "", "", kv)
	}

	// 运行流水线：逐文件读取、解析、驱动状态机、装配并写回。
	t := logger.Start("pipeline", "run")
	failures := 0
	files := 0
	iterErr := rt.Reader.Iterate(context.Background(), cfg.Inputs, func(fileID contract.FileID, r io.ReadCloser) error {
		files++
		ok := processOne(context.Background(), rt, cfg, logger, term, string(fileID), r)
		if !ok {
			failures++
		}
		return nil
	})
	if iterErr != nil {
		logger.Error("pipeline", string(diag.Classify(iterErr)), "first error", &start)
		fprintf(os.Stderr, "运行失败: %v\n", iterErr)
		if term != nil {
			term.RunFinish(false, time.Since(start))
		}
		return 1
	}
	if failures > 0 {
		if t != nil {
			t.Finish("run", int64(files))
		}
		diag.IncOp("pipeline", "finish", "error")
		if term != nil {
			term.RunFinish(false, time.Since(start))
		}
		return 1
	}
	if t != nil {
		t.Finish("run", int64(files))
	}
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	if term != nil {
		term.RunFinish(true, time.Since(start))
	}
	return 0
}

// processOne drives a single input file through parse -> orchestrator -> render -> write.
// Returns false on any failure (the caller tallies it into the run's exit code).
func processOne(ctx context.Context, rt *cfgpkg.Runtime, cfg cfgpkg.Config, logger *diag.Logger, term *diag.Terminal, fileID string, r io.ReadCloser) bool {
	defer r.Close()

	entries, err := subtitle.Parse(r)
	if err != nil {
		logger.ErrorWith("pipeline", string(diag.Classify(err)), "parse failed", nil, fileID, "")
		fprintf(os.Stderr, "解析失败 %s: %v\n", fileID, err)
		return false
	}

	doc, err := model.New(fileID, model.Metadata{
		SourceLang:    cfg.SourceLang,
		TargetLang:    cfg.TargetLang,
		Provider:      cfg.LLM,
		SchemaVersion: "v1",
	}, entries)
	if err != nil {
		logger.ErrorWith("pipeline", string(diag.Classify(err)), "invalid document", nil, fileID, "")
		fprintf(os.Stderr, "文档构建失败 %s: %v\n", fileID, err)
		return false
	}

	if term != nil {
		term.FileStart(fileID, 0)
	}
	fileStart := time.Now()

	orc := rt.NewOrchestrator(doc, inputFingerprint(fileID, cfg))
	orc.OnStateChange(func(s orchestrator.State) {
		logger.StartWith("orchestrator", s.String(), fileID, "")
	})
	outcome := orc.Run(ctx)

	if term != nil {
		term.FileFinish(outcome.State == orchestrator.StateFinalized, time.Since(fileStart))
	}

	if outcome.State != orchestrator.StateFinalized {
		reason := outcome.FailReason
		if reason == "" && outcome.LastError != nil {
			reason = outcome.LastError.Error()
		}
		logger.ErrorWith("pipeline", string(diag.Classify(outcome.LastError)), reason, nil, fileID, "")
		fprintf(os.Stderr, "翻译未完成 %s: %s (失败条目 %d)\n", fileID, reason, len(outcome.UnreportedEntryIDs))
		// Partial outcome: the file is still written, untranslated entries
		// passed through as source text. A pure Failed outcome writes nothing.
		if outcome.Document != nil && len(outcome.UnreportedEntryIDs) > 0 {
			rendered := subtitle.Render(outcome.Document.Serialize(""))
			if err := rt.Writer.Write(ctx, contract.ArtifactID(fileID), rendered); err != nil {
				logger.ErrorWith("pipeline", string(diag.Classify(err)), "write failed", nil, fileID, "")
				fprintf(os.Stderr, "写入失败 %s: %v\n", fileID, err)
			}
		}
		return false
	}

	rendered := subtitle.Render(outcome.Document.Serialize(""))
	if err := rt.Writer.Write(ctx, contract.ArtifactID(fileID), rendered); err != nil {
		logger.ErrorWith("pipeline", string(diag.Classify(err)), "write failed", nil, fileID, "")
		fprintf(os.Stderr, "写入失败 %s: %v\n", fileID, err)
		return false
	}
	return true
}

// inputFingerprint identifies a document for checkpoint persistence across
// restarts (spec §8 scenario 6): the normalized path plus the active
// language pair and provider, so a config change starts a document fresh
// rather than resuming stale checkpoints.
func inputFingerprint(fileID string, cfg cfgpkg.Config) string {
	h := sha256.New()
	h.Write([]byte(fileID))
	h.Write([]byte{0})
	h.Write([]byte(cfg.SourceLang))
	h.Write([]byte{0})
	h.Write([]byte(cfg.TargetLang))
	h.Write([]byte{0})
	h.Write([]byte(cfg.LLM))
	return hex.EncodeToString(h.Sum(nil))
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, _ = f.Write([]byte("\n"))
	return nil
}

func genCorrID() string {
	return uuid.New().String()
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；无法读取时返回错误（但调用处可忽略）。
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export ".
// - 仅按首个 '=' 分割；key 为左侧去空白；value 去首尾空白；
// - 若 value 被成对的单/双引号包裹，则去除外层引号；双引号内常见转义 \n/\t/\\/\" 作最小处理。
// - 不覆盖已存在的环境变量（保持系统/调用者优先）。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 {
			if (val[0] == '\'' && val[len(val)-1] == '\'') || (val[0] == '"' && val[len(val)-1] == '"') {
				quoted := val[0]
				val = val[1 : len(val)-1]
				if quoted == '"' {
					val = strings.ReplaceAll(val, "\\n", "\n")
					val = strings.ReplaceAll(val, "\\t", "\t")
					val = strings.ReplaceAll(val, "\\r", "\r")
					val = strings.ReplaceAll(val, "\\\"", "\"")
					val = strings.ReplaceAll(val, "\\\\", "\\")
				}
			}
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用默认值当前目录 "."。
// 兼容以下形式：
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
//
// 仅在检测到“裸开关或后继为下一个开关”的情况下插入默认值。
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 {
				out = append(out, ".")
				continue
			}
			if strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
				continue
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
// 仅创建文件；不覆盖，不合并。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	var b strings.Builder
	b.WriteString("# subtrans .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON\n")
	b.WriteString("# 空值表示未设置；按需填写后移除本行注释。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString("LLM_SPT_CONFIG_FILE=\n")
	b.WriteString("LLM_SPT_CONFIG_JSON=\n\n")

	b.WriteString("# 运行参数覆盖\n")
	b.WriteString("LLM_SPT_INPUTS=\n")
	b.WriteString("LLM_SPT_OUTPUT_DIR=\n")
	b.WriteString("LLM_SPT_CONCURRENCY=\n")
	b.WriteString("LLM_SPT_MAX_CHARS=\n")
	b.WriteString("LLM_SPT_MAX_RETRIES=\n")
	b.WriteString("LLM_SPT_CACHE_DB=\n")
	b.WriteString("LLM_SPT_SOURCE_LANG=\n")
	b.WriteString("LLM_SPT_TARGET_LANG=\n")
	b.WriteString("LLM_SPT_LLM=\n\n")

	b.WriteString("# Provider 覆盖（openai）\n")
	b.WriteString("LLM_SPT_PROVIDER__openai__CLIENT=\n")
	b.WriteString("LLM_SPT_PROVIDER__openai__OPTIONS_JSON=\n\n")

	b.WriteString("# Provider 覆盖（gemini）\n")
	b.WriteString("LLM_SPT_PROVIDER__gemini__CLIENT=\n")
	b.WriteString("LLM_SPT_PROVIDER__gemini__OPTIONS_JSON=\n\n")

	b.WriteString("# 常见供应商 API Key\n")
	b.WriteString("OPENAI_API_KEY=\n")
	b.WriteString("GEMINI_API_KEY=\n")
	b.WriteString("\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		return err
	}
	return nil
}

// preflightCheckOutputDir: 启动前检查输出目录可写性（固定使用文件系统 writer）。
// 规则：
// - 若目录已存在：尝试创建并删除临时文件；失败则判为不可写。
// - 若目录不存在：检查父目录是否可写（尝试在父目录创建并删除临时目录）。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		dir = cfg.OutputDir
	}
	if dir == "" {
		return nil
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil && !st.IsDir() {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(dir)
	if parent == "" || parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
