package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/any-hub/groupstore/internal/resource"
)

var validate = validator.New()

// Validate 先执行结构体标签校验，再补充标签无法表达的规则，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	g := c.Global
	backend, ok := resource.Lookup(g.Backend)
	if !ok {
		return newFieldError(globalField("Backend"), "仅支持 "+strings.Join(resource.Keys(), "|"))
	}
	if backend.RequiresPath && strings.TrimSpace(g.WorkspacePath) == "" {
		return newFieldError(globalField("WorkspacePath"), fmt.Sprintf("%s 后端必须配置工作区目录", backend.Key))
	}
	for field, name := range map[string]string{"APIDir": g.APIDir, "FunctionDir": g.FunctionDir, "MetadataFile": g.MetadataFile} {
		if name == "." || name == ".." {
			return newFieldError(globalField(field), "不能是 . 或 ..")
		}
	}
	if g.APIDir == g.FunctionDir {
		return newFieldError(globalField("FunctionDir"), "不能与 APIDir 相同")
	}
	if g.ReadTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("ReadTimeout"), "必须大于 0")
	}
	if g.WriteTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("WriteTimeout"), "必须大于 0")
	}
	return nil
}

// formatValidationError 把第一条标签校验失败转换为 FieldError。
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return newFieldError(globalField(e.Field()), fmt.Sprintf("校验失败 %s (值: %v)", e.Tag(), e.Value()))
	}
	return err
}
