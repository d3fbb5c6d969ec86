package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/ilengine/internal/cil"
	"github.com/tangzhangming/ilengine/internal/config"
	"github.com/tangzhangming/ilengine/internal/engine"
	diag "github.com/tangzhangming/ilengine/internal/errors"
	"github.com/tangzhangming/ilengine/internal/jit"
	"github.com/tangzhangming/ilengine/internal/loader"
	"github.com/tangzhangming/ilengine/internal/logging"
	"github.com/tangzhangming/ilengine/internal/meta"
	"github.com/tangzhangming/ilengine/internal/verify"
)

const Version = "0.3.0"

func main() {
	InitLanguage()

	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		os.Exit(0)
	}

	command := args[0]
	switch command {
	case "verify":
		cmdVerify(args[1:])
	case "run":
		cmdRun(args[1:])
	case "asm":
		cmdAsm(args[1:])
	case "dump":
		cmdDump(args[1:])
	case "init":
		cmdInit(args[1:])
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		// 直接给出文件时按 run 处理
		if ext := filepath.Ext(command); ext == loader.SourceFileExtension || ext == loader.ImageFileExtension {
			cmdRun(args)
		} else {
			fmt.Fprintf(os.Stderr, Msg().ErrUnknownCmd+"\n", command)
			printUsage()
			os.Exit(1)
		}
	}
}

// ============================================================================
// verify
// ============================================================================

func cmdVerify(args []string) {
	m := Msg()
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	unsafeCode := fs.Bool("unsafe", false, m.OptUnsafe)
	jsonOut := fs.Bool("json", false, m.OptJSON)
	depth := fs.Bool("depth", false, m.OptDepth)
	logLevel := fs.String("log-level", "warn", m.OptLogLevel)

	fs.Usage = func() {
		fmt.Println(m.HelpUsage + " ilrun verify [options] <file.il|file.ilimg>")
		fmt.Println()
		fmt.Println(m.HelpOptions)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, m.ErrNoInput)
		fs.Usage()
		os.Exit(1)
	}
	file := fs.Arg(0)

	log := mustLogger(logging.Options{Level: *logLevel})
	defer log.Sync()

	mod, err := loadModule(file, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrLoad+"\n", err)
		os.Exit(1)
	}

	reporter := diag.NewReporter()
	err = verify.VerifyModule(mod, verify.Options{
		Unsafe:   *unsafeCode,
		Logger:   log,
		Reporter: reporter,
	})
	reporter.ReportError(err)

	if *jsonOut {
		if werr := reporter.WriteJSON(os.Stdout); werr != nil {
			fmt.Fprintf(os.Stderr, m.ErrWriteFile+"\n", werr)
			os.Exit(1)
		}
	} else {
		_ = reporter.WriteText(os.Stderr)
		total := countBodies(mod)
		if failed := len(multierr.Errors(err)); failed > 0 {
			fmt.Printf(m.SuccessFailed+"\n", file, failed, total)
		} else {
			fmt.Printf(m.SuccessVerified+"\n", file, total)
		}
	}

	if *depth {
		printDepths(mod)
	}
	if err != nil {
		os.Exit(1)
	}
}

// printDepths 输出声明的栈上限和实际最大深度
func printDepths(mod *meta.Module) {
	fmt.Println(Msg().SuccessDepthTitle)
	for _, me := range mod.Methods() {
		if me.Body == nil {
			continue
		}
		r, err := verify.AnalyzeDepth(me)
		if err != nil {
			fmt.Printf("  %-40s maxstack=%-4d error: %v\n", me.FullName(), me.Body.MaxStack, err)
			continue
		}
		fmt.Printf("  %-40s maxstack=%-4d depth=%d\n", me.FullName(), me.Body.MaxStack, r.MaxDepth)
	}
}

// ============================================================================
// run
// ============================================================================

func cmdRun(args []string) {
	m := Msg()
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	entry := fs.String("entry", "", m.OptEntry)
	configPath := fs.String("config", "", m.OptConfig)
	unsafeCode := fs.Bool("unsafe", false, m.OptUnsafe)
	verifyOnly := fs.Bool("verify-only", false, m.OptVerifyOnly)
	logLevel := fs.String("log-level", "", m.OptLogLevel)
	stats := fs.Bool("stats", false, m.OptStats)

	fs.Usage = func() {
		fmt.Println(m.HelpUsage + " ilrun run [options] <file.il|file.ilimg>")
		fmt.Println()
		fmt.Println(m.HelpOptions)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, m.ErrNoInput)
		fs.Usage()
		os.Exit(1)
	}
	file := fs.Arg(0)

	cfg, err := loadConfig(*configPath, filepath.Dir(file))
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrConfig+"\n", err)
		os.Exit(1)
	}
	if *unsafeCode {
		cfg.Engine.UnsafeAllowed = true
	}
	if *verifyOnly {
		cfg.Engine.VerifyOnly = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	log := mustLogger(cfg.LoggingOptions())
	defer log.Sync()

	mod, err := loadModule(file, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrLoad+"\n", err)
		os.Exit(1)
	}

	reporter := diag.NewReporter()
	opts := cfg.EngineOptions()
	opts.Stdout = os.Stdout
	opts.Logger = log
	opts.Reporter = reporter
	e := engine.New(opts)

	if cfg.Engine.VerifyOnly {
		// 校验并生成全部方法，但不执行
		err := e.CompileAll(mod)
		_ = reporter.WriteText(os.Stderr)
		if err != nil {
			os.Exit(1)
		}
		fmt.Printf(m.SuccessVerified+"\n", file, countBodies(mod))
		return
	}

	me, err := findEntry(mod, *entry)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	r, err := e.Invoke(me)
	if err != nil {
		_ = reporter.WriteText(os.Stderr)
		fmt.Fprintf(os.Stderr, m.ErrRuntime+"\n", err)
		os.Exit(1)
	}
	if s := formatResult(me.Sig.Return, r); s != "" {
		fmt.Println(s)
	}

	if *stats {
		st := e.Stats()
		fmt.Fprintf(os.Stderr, m.SuccessStats+"\n",
			st.Verified, st.Rejected, st.Bound, st.Objects, st.Bytes, st.JIT.Calls)
	}
}

// loadConfig 指定了路径时必须存在；否则使用入口目录下的 ilengine.toml，没有则用默认值
func loadConfig(path, dir string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	p := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(p); err == nil {
		return config.Load(p)
	}
	return config.Default(), nil
}

// findEntry 按 Class::Method 查找入口，未指定时取第一个静态无参 Main
func findEntry(mod *meta.Module, name string) (*meta.Method, error) {
	m := Msg()
	var found *meta.Method
	for _, me := range mod.Methods() {
		if name != "" {
			if me.FullName() == name {
				found = me
				break
			}
			continue
		}
		if me.Name == "Main" && me.IsStatic() && len(me.Sig.Params) == 0 {
			found = me
			break
		}
	}
	if found == nil {
		if name == "" {
			name = "Main"
		}
		return nil, fmt.Errorf(m.ErrNoEntry, name)
	}
	if !found.IsStatic() || len(found.Sig.Params) != 0 {
		return nil, fmt.Errorf(m.ErrEntryParams, found.FullName())
	}
	return found, nil
}

// formatResult 按返回类型格式化结果，void 返回空串
func formatResult(t *meta.Type, r jit.Slot) string {
	if t.IsVoid() {
		return ""
	}
	switch t.Kind {
	case meta.ElemBoolean:
		return fmt.Sprint(r.I != 0)
	case meta.ElemChar:
		return string(rune(uint16(r.I)))
	case meta.ElemR4, meta.ElemR8:
		return fmt.Sprint(r.F)
	case meta.ElemU1, meta.ElemU2, meta.ElemU4, meta.ElemU8, meta.ElemU:
		return fmt.Sprint(uint64(r.I))
	case meta.ElemValueType:
		return t.String()
	}
	if t.IsReference() {
		if r.Ref == nil {
			return "null"
		}
		return fmt.Sprint(r.Ref)
	}
	return fmt.Sprint(r.I)
}

// ============================================================================
// asm / dump
// ============================================================================

func cmdAsm(args []string) {
	m := Msg()
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	output := fs.String("o", "", m.OptOutput)

	fs.Usage = func() {
		fmt.Println(m.HelpUsage + " ilrun asm [options] <file.il>")
		fmt.Println()
		fmt.Println(m.HelpOptions)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, m.ErrNoInput)
		fs.Usage()
		os.Exit(1)
	}
	file := fs.Arg(0)
	if !strings.HasSuffix(file, loader.SourceFileExtension) {
		fmt.Fprintf(os.Stderr, m.ErrNotSourceFile+"\n", file, loader.SourceFileExtension)
		os.Exit(1)
	}

	out := *output
	if out == "" {
		out = strings.TrimSuffix(file, loader.SourceFileExtension) + loader.ImageFileExtension
	}

	log := mustLogger(logging.Options{Level: "warn"})
	defer log.Sync()

	mod, err := loadModule(file, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrLoad+"\n", err)
		os.Exit(1)
	}
	if err := loader.Save(out, mod); err != nil {
		fmt.Fprintf(os.Stderr, m.ErrWriteFile+"\n", err)
		os.Exit(1)
	}
	var size int64
	if info, err := os.Stat(out); err == nil {
		size = info.Size()
	}
	fmt.Printf(m.SuccessBuilt+"\n", out, size)
}

func cmdDump(args []string) {
	m := Msg()
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Println(m.HelpUsage + " ilrun dump <file.il|file.ilimg>")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, m.ErrNoInput)
		fs.Usage()
		os.Exit(1)
	}

	log := mustLogger(logging.Options{Level: "warn"})
	defer log.Sync()

	mod, err := loadModule(fs.Arg(0), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, m.ErrLoad+"\n", err)
		os.Exit(1)
	}
	fmt.Print(dumpModule(mod))
}

// dumpModule 反汇编模块中所有带方法体的方法
func dumpModule(mod *meta.Module) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ".module %s // %s\n", mod.Name, mod.Mvid)
	for _, me := range mod.Methods() {
		if me.Body == nil {
			continue
		}
		fmt.Fprintf(&sb, "\n.method %s\n", me.FullName())
		fmt.Fprintf(&sb, "  .maxstack %d\n", me.Body.MaxStack)
		if len(me.Body.Locals) > 0 {
			locals := make([]string, len(me.Body.Locals))
			for i, t := range me.Body.Locals {
				locals[i] = t.String()
			}
			fmt.Fprintf(&sb, "  .locals (%s)\n", strings.Join(locals, ", "))
		}
		for _, line := range strings.Split(strings.TrimRight(cil.Disassemble(me.Body.Code), "\n"), "\n") {
			sb.WriteString("  " + line + "\n")
		}
		for _, c := range me.Body.Clauses {
			fmt.Fprintf(&sb, "  // %s try IL_%04X+%d handler IL_%04X+%d\n",
				c.Kind, c.TryOffset, c.TryLength, c.HandlerOffset, c.HandlerLength)
		}
	}
	return sb.String()
}

// ============================================================================
// init / version / help
// ============================================================================

func cmdInit(args []string) {
	m := Msg()
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, m.OptForce)
	fs.Usage = func() {
		fmt.Println(m.HelpUsage + " ilrun init [options]")
		fmt.Println()
		fmt.Println(m.CmdInit)
		fmt.Println()
		fmt.Println(m.HelpOptions)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if _, err := os.Stat(config.FileName); err == nil && !*force {
		fmt.Fprintf(os.Stderr, m.ErrConfigExists+"\n", config.FileName)
		os.Exit(1)
	}
	if err := config.Default().Save(config.FileName); err != nil {
		fmt.Fprintf(os.Stderr, m.ErrWriteFile+"\n", err)
		os.Exit(1)
	}
	fmt.Printf(m.SuccessInit+"\n", config.FileName)
}

func cmdVersion() {
	m := Msg()
	t := jit.DetectTarget()
	fmt.Printf(m.VersionTitle+"\n", Version)
	fmt.Println(m.VersionDesc)
	fmt.Printf(m.VersionTarget+"\n", t.OS, t.Arch, t.PtrSize)
	features := "-"
	if len(t.Features) > 0 {
		features = strings.Join(t.Features, " ")
	}
	fmt.Printf(m.VersionCPU+"\n", features)
}

func printUsage() {
	m := Msg()
	fmt.Printf(m.VersionTitle+"\n", Version)
	fmt.Println(m.VersionDesc)
	fmt.Println()
	fmt.Println(m.HelpUsage)
	fmt.Println("  ilrun <command> [options] [file]")
	fmt.Println()
	fmt.Println(m.HelpCommands)
	fmt.Printf("  verify    %s\n", m.CmdVerify)
	fmt.Printf("  run       %s\n", m.CmdRun)
	fmt.Printf("  asm       %s\n", m.CmdAsm)
	fmt.Printf("  dump      %s\n", m.CmdDump)
	fmt.Printf("  init      %s\n", m.CmdInit)
	fmt.Printf("  version   %s\n", m.CmdVersion)
	fmt.Printf("  help      %s\n", m.CmdHelp)
	fmt.Println()
	fmt.Println(m.HelpExamples)
	fmt.Println("  ilrun verify -depth hello.il")
	fmt.Println("  ilrun run -entry App.Program::Main hello.il")
	fmt.Println("  ilrun asm -o hello.ilimg hello.il")
	fmt.Println("  ilrun dump hello.ilimg")
}

// ============================================================================
// 公共
// ============================================================================

func loadModule(file string, log *zap.Logger) (*meta.Module, error) {
	l := loader.New(file, meta.LoadCorlib(), log.Named("loader"))
	return l.Load(file)
}

func countBodies(mod *meta.Module) int {
	n := 0
	for _, me := range mod.Methods() {
		if me.Impl == meta.ImplIL && me.Body != nil {
			n++
		}
	}
	return n
}

func mustLogger(opts logging.Options) *zap.Logger {
	log, err := logging.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, Msg().ErrLogger+"\n", err)
		os.Exit(1)
	}
	return log
}
