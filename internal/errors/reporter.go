package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/encoding/json"
	"go.uber.org/multierr"
)

// ============================================================================
// 诊断报告器
// ============================================================================

// Reporter 收集诊断记录，可被多个编译线程同时使用
type Reporter struct {
	mu        sync.Mutex
	formatter *Formatter
	errors    []*Diagnostic
	warnings  []*Diagnostic
}

// NewReporter 创建报告器
func NewReporter() *Reporter {
	return &Reporter{formatter: NewFormatter()}
}

// SetFormatter 设置格式化器
func (r *Reporter) SetFormatter(f *Formatter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formatter = f
}

// Report 记录一条诊断
func (r *Reporter) Report(d *Diagnostic) {
	if len(d.Hints) == 0 {
		d.Hints = GetSuggestions(d.Code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.Level == LevelError {
		r.errors = append(r.errors, d)
	} else {
		r.warnings = append(r.warnings, d)
	}
}

// ReportError 记录错误，多个错误合并而成的错误会被拆开逐条记录
func (r *Reporter) ReportError(err error) {
	for _, e := range multierr.Errors(err) {
		r.Report(FromError(e))
	}
}

// FromError 将错误转换为诊断记录
func FromError(err error) *Diagnostic {
	var dg Diagnoser
	if stderrors.As(err, &dg) {
		return dg.Diagnostic()
	}
	var d *Diagnostic
	if stderrors.As(err, &d) {
		return d
	}
	return &Diagnostic{Level: LevelError, Code: J0005, Message: err.Error(), Offset: -1}
}

// ============================================================================
// 状态查询
// ============================================================================

// HasErrors 是否有错误
func (r *Reporter) HasErrors() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors) > 0
}

// ErrorCount 错误数量
func (r *Reporter) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

// WarningCount 警告数量
func (r *Reporter) WarningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.warnings)
}

// Errors 获取所有错误
func (r *Reporter) Errors() []*Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Diagnostic(nil), r.errors...)
}

// Warnings 获取所有警告
func (r *Reporter) Warnings() []*Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Diagnostic(nil), r.warnings...)
}

// Clear 清空错误和警告
func (r *Reporter) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = nil
	r.warnings = nil
}

// ============================================================================
// 输出
// ============================================================================

// WriteText 以文本形式输出全部诊断
func (r *Reporter) WriteText(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, list := range [][]*Diagnostic{r.errors, r.warnings} {
		for _, d := range list {
			if _, err := io.WriteString(w, r.formatter.Format(d)); err != nil {
				return err
			}
		}
	}
	if len(r.errors) > 0 {
		_, err := fmt.Fprintf(w, "%d error(s), %d warning(s)\n", len(r.errors), len(r.warnings))
		return err
	}
	return nil
}

// jsonReport JSON 输出结构
type jsonReport struct {
	Errors   []*Diagnostic `json:"errors"`
	Warnings []*Diagnostic `json:"warnings"`
}

// WriteJSON 以 JSON 形式输出全部诊断
func (r *Reporter) WriteJSON(w io.Writer) error {
	r.mu.Lock()
	rep := jsonReport{Errors: r.errors, Warnings: r.warnings}
	r.mu.Unlock()
	if rep.Errors == nil {
		rep.Errors = []*Diagnostic{}
	}
	if rep.Warnings == nil {
		rep.Warnings = []*Diagnostic{}
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// ReadJSON 解析 WriteJSON 的输出
func ReadJSON(data []byte) (errs, warnings []*Diagnostic, err error) {
	var rep jsonReport
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, nil, err
	}
	return rep.Errors, rep.Warnings, nil
}
