package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/groupstore/internal/group"
	"github.com/any-hub/groupstore/internal/notify"
	"github.com/any-hub/groupstore/internal/resource"
)

// RegisterDiagnosticRoutes 暴露 /-/backends 诊断接口，展示已注册后端、当前后端与缓存规模。
func RegisterDiagnosticRoutes(app *fiber.App, workspace *resource.Workspace, store *group.Store) {
	if app == nil || workspace == nil || store == nil {
		return
	}

	app.Get("/-/backends", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"active":    workspace.Backend,
			"backends":  encodeBackends(resource.List()),
			"layout":    encodeLayout(store.Layout()),
			"stats":     store.Stats(),
			"listeners": notify.Snapshot(notify.Keys()),
		})
	})
}

type backendPayload struct {
	Key          string `json:"key"`
	Description  string `json:"description"`
	Persistent   bool   `json:"persistent"`
	RequiresPath bool   `json:"requires_path"`
}

type layoutPayload struct {
	APIDir       string `json:"api_dir"`
	FunctionDir  string `json:"function_dir"`
	MetadataFile string `json:"metadata_file"`
}

func encodeBackends(backends []resource.Backend) []backendPayload {
	if len(backends) == 0 {
		return nil
	}
	result := make([]backendPayload, 0, len(backends))
	for _, backend := range backends {
		result = append(result, backendPayload{
			Key:          backend.Key,
			Description:  backend.Description,
			Persistent:   backend.Persistent,
			RequiresPath: backend.RequiresPath,
		})
	}
	return result
}

func encodeLayout(layout group.Layout) layoutPayload {
	return layoutPayload{
		APIDir:       layout.APIDir,
		FunctionDir:  layout.FunctionDir,
		MetadataFile: layout.MetadataFile,
	}
}
