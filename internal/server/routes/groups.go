package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/groupstore/internal/group"
	"github.com/any-hub/groupstore/internal/logging"
	"github.com/any-hub/groupstore/internal/notify"
	"github.com/any-hub/groupstore/internal/resource"
	"github.com/any-hub/groupstore/internal/server"
)

var validate = validator.New()

// GroupOptions 汇总分组路由依赖；Notifier 为空时不发送变更通知。
type GroupOptions struct {
	Store    *group.Store
	Notifier notify.Service
	Logger   *logrus.Logger
}

type groupPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name" validate:"required,max=255,excludesall=/\\"`
	Type     string `json:"type" validate:"required,oneof=1 2 api function"`
	ParentID string `json:"parentId"`
	Path     string `json:"path"`
	CreateBy string `json:"createBy"`
	UpdateBy string `json:"updateBy"`
}

type existsPayload struct {
	Name     string `json:"name" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=1 2 api function"`
	ParentID string `json:"parentId"`
}

type groupHandler struct {
	store    *group.Store
	notifier notify.Service
	logger   *logrus.Logger
}

// RegisterGroupRoutes 暴露分组树的查询与增删改接口。
func RegisterGroupRoutes(app *fiber.App, opts GroupOptions) {
	if app == nil || opts.Store == nil || opts.Logger == nil {
		return
	}
	h := &groupHandler{store: opts.Store, notifier: opts.Notifier, logger: opts.Logger}

	app.Get("/group/tree/:type", h.tree)
	app.Get("/group/list/:type", h.list)
	app.Post("/group/exists", h.exists)
	app.Post("/group", h.create)
	app.Put("/group/:id", h.update)
	app.Delete("/group/:id", h.remove)
	app.Get("/group/:id/path", h.fullPath)
	app.Get("/group/:id/name", h.fullName)
}

func (h *groupHandler) tree(c fiber.Ctx) error {
	t, err := group.ParseType(c.Params("type"))
	if err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_group_type")
	}
	tree, err := h.store.GroupTree(t)
	if err != nil {
		h.logFailure(c, "group_tree", err)
		return renderError(c, fiber.StatusInternalServerError, "group_load_failed")
	}
	return c.JSON(tree)
}

func (h *groupHandler) list(c fiber.Ctx) error {
	t, err := group.ParseType(c.Params("type"))
	if err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_group_type")
	}
	var groups []group.Group
	if isTruthy(c.Query("cached")) {
		groups, err = h.store.CachedGroupList(t)
	} else {
		groups, err = h.store.GroupList(t)
	}
	if err != nil {
		h.logFailure(c, "group_list", err)
		return renderError(c, fiber.StatusInternalServerError, "group_load_failed")
	}
	return c.JSON(fiber.Map{"groups": groups})
}

func (h *groupHandler) exists(c fiber.Ctx) error {
	var payload existsPayload
	if err := decodePayload(c, &payload); err != nil {
		return renderError(c, fiber.StatusBadRequest, "invalid_payload")
	}
	t, _ := group.ParseType(payload.Type)
	exists := h.store.Exists(group.Group{Name: payload.Name, Type: t, ParentID: normalizeParent(payload.ParentID)})
	return c.JSON(fiber.Map{"exists": exists})
}

func (h *groupHandler) create(c fiber.Ctx) error {
	g, ok, err := h.bindGroup(c)
	if !ok {
		return err
	}
	if err := h.store.Insert(&g); err != nil {
		return h.renderStoreError(c, "group_insert", err)
	}
	h.refresh(c, g.Type)
	h.logger.WithFields(logging.GroupFields("group_insert", g)).WithField("request_id", server.RequestID(c)).Info("group created")
	h.send(notify.Notify{ID: g.ID, Action: notify.ActionSave, Type: g.Type})
	return c.Status(fiber.StatusCreated).JSON(g)
}

func (h *groupHandler) update(c fiber.Ctx) error {
	g, ok, err := h.bindGroup(c)
	if !ok {
		return err
	}
	g.ID = c.Params("id")

	action := notify.ActionSave
	if dir, cached := h.store.GroupResource(g.ID); cached {
		if previous, err := h.store.ReadGroup(dir.GetResource(h.store.Layout().MetadataFile)); err == nil {
			if previous.ParentID != g.ParentID || previous.Name != g.Name {
				action = notify.ActionMove
			}
		}
	}

	if err := h.store.Update(g); err != nil {
		return h.renderStoreError(c, "group_update", err)
	}
	// 类型变化会让分组跨命名空间移动，两棵树都需要刷新
	h.refresh(c, group.TypeAPI)
	h.refresh(c, group.TypeFunction)
	h.logger.WithFields(logging.GroupFields("group_update", g)).WithField("request_id", server.RequestID(c)).Info("group updated")
	h.send(notify.Notify{ID: g.ID, Action: action, Type: g.Type})
	return c.JSON(g)
}

// remove 先物理删除分组目录，再清理位置缓存，最后重新加载两棵树。
func (h *groupHandler) remove(c fiber.Ctx) error {
	id := c.Params("id")
	dir, ok := h.store.GroupResource(id)
	if !ok {
		return renderError(c, fiber.StatusNotFound, "group_not_found")
	}
	g, err := h.store.ReadGroup(dir.GetResource(h.store.Layout().MetadataFile))
	if err != nil {
		g = group.Group{ID: id}
	}
	if err := dir.Delete(); err != nil {
		h.logFailure(c, "group_delete", err)
		return renderError(c, fiber.StatusInternalServerError, "group_delete_failed")
	}
	h.store.Delete(id)
	h.refresh(c, group.TypeAPI)
	h.refresh(c, group.TypeFunction)

	h.logger.WithFields(logging.GroupFields("group_delete", g)).WithField("request_id", server.RequestID(c)).Info("group deleted")
	h.send(notify.Notify{ID: id, Action: notify.ActionDelete, Type: g.Type})
	return c.JSON(fiber.Map{"id": id, "deleted": true})
}

func (h *groupHandler) fullPath(c fiber.Ctx) error {
	path, ok := h.store.FullPath(c.Params("id"))
	if !ok {
		return renderError(c, fiber.StatusNotFound, "group_chain_broken")
	}
	return c.JSON(fiber.Map{"path": path})
}

func (h *groupHandler) fullName(c fiber.Ctx) error {
	name, ok := h.store.FullName(c.Params("id"))
	if !ok {
		return renderError(c, fiber.StatusNotFound, "group_chain_broken")
	}
	return c.JSON(fiber.Map{"name": name})
}

// bindGroup 解析并校验请求体；ok 为 false 时响应已写出，调用方直接返回 err。
func (h *groupHandler) bindGroup(c fiber.Ctx) (group.Group, bool, error) {
	var payload groupPayload
	if err := decodePayload(c, &payload); err != nil {
		return group.Group{}, false, renderError(c, fiber.StatusBadRequest, "invalid_payload")
	}
	t, err := group.ParseType(payload.Type)
	if err != nil {
		return group.Group{}, false, renderError(c, fiber.StatusBadRequest, "invalid_group_type")
	}
	g := group.Group{
		ID:       strings.TrimSpace(payload.ID),
		Name:     strings.TrimSpace(payload.Name),
		Type:     t,
		ParentID: normalizeParent(payload.ParentID),
		Path:     payload.Path,
		CreateBy: payload.CreateBy,
		UpdateBy: payload.UpdateBy,
	}
	if !h.parentKnown(g) {
		return group.Group{}, false, renderError(c, fiber.StatusBadRequest, "parent_not_found")
	}
	return g, true, nil
}

// parentKnown 要求父分组为根节点或已缓存；接口分组的父节点还必须是已加载的接口分组。
func (h *groupHandler) parentKnown(g group.Group) bool {
	if g.ParentID == group.RootID {
		return true
	}
	if _, ok := h.store.GroupResource(g.ParentID); !ok {
		return false
	}
	if g.Type == group.TypeAPI {
		return h.store.ContainsAPIGroup(g.ParentID)
	}
	return true
}

// refresh 重新加载命名空间，使扁平缓存与刚完成的变更保持一致。
func (h *groupHandler) refresh(c fiber.Ctx, t group.Type) {
	if _, err := h.store.GroupTree(t); err != nil {
		h.logFailure(c, "group_refresh", err)
	}
}

func (h *groupHandler) send(n notify.Notify) {
	if h.notifier != nil {
		h.notifier.SendNotify(n)
	}
}

func (h *groupHandler) renderStoreError(c fiber.Ctx, action string, err error) error {
	switch {
	case errors.Is(err, group.ErrGroupExists):
		return renderError(c, fiber.StatusConflict, "group_exists")
	case errors.Is(err, group.ErrGroupNotCached):
		return renderError(c, fiber.StatusNotFound, "group_not_cached")
	case errors.Is(err, resource.ErrInvalidName):
		return renderError(c, fiber.StatusBadRequest, "invalid_group_name")
	case errors.Is(err, group.ErrPartialUpdate):
		h.logFailure(c, action, err)
		return renderError(c, fiber.StatusInternalServerError, "group_partial_update")
	default:
		h.logFailure(c, action, err)
		return renderError(c, fiber.StatusInternalServerError, action+"_failed")
	}
}

func (h *groupHandler) logFailure(c fiber.Ctx, action string, err error) {
	h.logger.WithFields(logrus.Fields{
		"action":     action,
		"request_id": server.RequestID(c),
	}).Error(err.Error())
}

func decodePayload(c fiber.Ctx, out any) error {
	if err := json.Unmarshal(c.Body(), out); err != nil {
		return err
	}
	return validate.Struct(out)
}

func renderError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func normalizeParent(parentID string) string {
	if trimmed := strings.TrimSpace(parentID); trimmed != "" {
		return trimmed
	}
	return group.RootID
}

func isTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
