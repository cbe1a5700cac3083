// Package converter は画像からPDFへの変換画面の編集状態を管理します。
//
// Controller がコレクション・編集セッション・出力設定を所有し、すべての操作をロックで直列化します。
// 画面表示（アップロード画面か編集画面か）はコレクションの枚数だけで決まります。
package converter

import (
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yourusername/scanforge/internal/pdf"
)

// View は表示中の画面です。
type View string

const (
	ViewUpload View = "upload"
	ViewEditor View = "editor"
)

// Options は Controller の依存と上限値です。
type Options struct {
	Store        HandleStore
	NewTool      func() CropTool
	MaxFileSize  int64
	MaxImages    int
	Logger       zerolog.Logger
	OnViewChange func(View)
}

// State は画面表示用のスナップショットです。
type State struct {
	View     View         `json:"view"`
	Count    int          `json:"count"`
	Units    []UnitView   `json:"units"`
	Settings pdf.Settings `json:"settings"`
	Session  *SessionView `json:"session,omitempty"`
}

// Controller は1人の利用者の変換作業の状態を所有します。
type Controller struct {
	mu         sync.Mutex
	store      HandleStore
	newTool    func() CropTool
	ingestor   *Ingestor
	collection *Collection
	session    *EditSession
	settings   pdf.Settings
	onView     func(View)
	logger     zerolog.Logger
	closed     bool
}

// New は空のコレクションと初期設定で Controller を返します。
func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("handle store is required")
	}
	newTool := opts.NewTool
	if newTool == nil {
		newTool = NewImagingTool
	}
	return &Controller{
		store:      opts.Store,
		newTool:    newTool,
		ingestor:   NewIngestor(opts.Store, opts.MaxFileSize, opts.MaxImages),
		collection: newCollection(),
		settings:   pdf.DefaultSettings(),
		onView:     opts.OnViewChange,
		logger:     opts.Logger,
	}, nil
}

// mutate は fn をロック下で実行し、画面が切り替わった場合はロック解放後に通知します。
func (c *Controller) mutate(fn func() error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	before := c.viewLocked()
	err := fn()
	after := c.viewLocked()
	c.mu.Unlock()

	if before != after && c.onView != nil {
		c.onView(after)
	}
	return err
}

func (c *Controller) viewLocked() View {
	if c.collection.Len() == 0 {
		return ViewUpload
	}
	return ViewEditor
}

// View は現在の画面を返します。
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// State は現在の状態のスナップショットを返します。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	units := c.collection.Units()
	views := make([]UnitView, len(units))
	for i, u := range units {
		views[i] = u.view()
	}
	st := State{
		View:     c.viewLocked(),
		Count:    len(units),
		Units:    views,
		Settings: c.settings,
	}
	if c.session != nil {
		st.Session = &SessionView{Target: c.session.target, CropBox: rectOf(c.session.tool.CropBox())}
	}
	return st
}

// Unit は id の画像のコピーを返します。
func (c *Controller) Unit(id string) (Unit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.collection.Get(id)
	if !ok {
		return Unit{}, false
	}
	return *u, true
}

// Ingest はファイルを取り込み、受け付けた画像を末尾に追加します。
// 1件も受け付けられなかった場合は ErrNoValidImages を返し、コレクションは変更しません。
func (c *Controller) Ingest(files []RawFile) (*IngestResult, error) {
	var result *IngestResult
	err := c.mutate(func() error {
		units, rejections, err := c.ingestor.Ingest(files, c.collection.Len())
		result = &IngestResult{Rejected: len(rejections), Rejections: rejections}
		if err != nil {
			return err
		}
		if err := c.collection.Append(units...); err != nil {
			for _, u := range units {
				c.release(u.Display.Handle)
			}
			return err
		}
		result.Added = make([]UnitView, len(units))
		for i, u := range units {
			result.Added[i] = u.view()
		}
		c.logger.Debug().Int("added", len(units)).Int("rejected", len(rejections)).Msg("images ingested")
		return nil
	})
	return result, err
}

// Remove は画像を取り除き、表示用ハンドルを解放します。存在しない id は無視します。
// 編集セッションの対象だった場合はセッションも閉じます。
func (c *Controller) Remove(id string) (bool, error) {
	removed := false
	err := c.mutate(func() error {
		u, ok := c.collection.Remove(id)
		if !ok {
			return nil
		}
		removed = true
		if c.session != nil && c.session.target == id {
			c.closeSessionLocked()
		}
		c.release(u.Display.Handle)
		return nil
	})
	return removed, err
}

// Reorder は並び順を置き換えます。ids は現在の id の並べ替えでなければなりません。
func (c *Controller) Reorder(ids []string) error {
	return c.mutate(func() error {
		return c.collection.Reorder(ids)
	})
}

// Clear は確認のうえすべての画像を削除します。
func (c *Controller) Clear(confirmer Confirmer) error {
	return c.mutate(func() error {
		if c.collection.Len() == 0 {
			return nil
		}
		if !confirm(confirmer, PromptClear) {
			return ConfirmationRequired(PromptClear)
		}
		c.closeSessionLocked()
		c.releaseAllLocked()
		c.collection = newCollection()
		return nil
	})
}

// RotateAll はトリミング確定前の画像すべてに回転を加えます。回転した枚数を返します。
func (c *Controller) RotateAll(delta int) (int, error) {
	rotated := 0
	err := c.mutate(func() error {
		d, err := normalizeDelta(delta)
		if err != nil {
			return err
		}
		for _, u := range c.collection.Units() {
			if u.rotate(d) {
				rotated++
				c.followRotation(u, d)
			}
		}
		return nil
	})
	return rotated, err
}

// RotateOne は1枚の画像を回転します。トリミング確定済みの画像は確認のうえ元画像に戻してから回転します。
// 存在しない id は無視します。
func (c *Controller) RotateOne(id string, delta int, confirmer Confirmer) error {
	return c.mutate(func() error {
		d, err := normalizeDelta(delta)
		if err != nil {
			return err
		}
		u, ok := c.collection.Get(id)
		if !ok {
			return nil
		}
		if u.CropBaked {
			if !confirm(confirmer, PromptResetCrop) {
				return ConfirmationRequired(PromptResetCrop)
			}
			if err := c.resetToSource(u); err != nil {
				return err
			}
			u.rotate(d)
			c.reloadSession(u)
			return nil
		}
		if u.rotate(d) {
			c.followRotation(u, d)
		}
		return nil
	})
}

// followRotation は編集中の画像が回転されたとき、同じ回転をツールにも加えます。
func (c *Controller) followRotation(u *Unit, delta int) {
	if c.session == nil || c.session.target != u.ID || c.session.tool == nil {
		return
	}
	c.session.tool.Rotate(delta)
}

// reloadSession は元画像に戻った編集対象をツールに読み込み直します。
// 読み込めない場合はセッションを閉じます。
func (c *Controller) reloadSession(u *Unit) {
	if c.session == nil || c.session.target != u.ID {
		return
	}
	tool := c.newTool()
	if err := tool.Load(u.Display.Data, u.Display.MediaType); err != nil {
		tool.Destroy()
		c.logger.Warn().Err(err).Str("unit", u.ID).Msg("failed to reload editor after crop reset")
		c.closeSessionLocked()
		return
	}
	if u.Rotation != 0 {
		tool.Rotate(u.Rotation)
	}
	c.session.close()
	c.session.tool = tool
}

// Settings は現在の出力設定を返します。
func (c *Controller) Settings() pdf.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings は出力設定を部分更新します。不正な値が含まれる場合は何も変更しません。
func (c *Controller) UpdateSettings(update pdf.SettingsUpdate) (pdf.Settings, error) {
	var next pdf.Settings
	err := c.mutate(func() error {
		s, err := update.Apply(c.settings)
		if err != nil {
			return err
		}
		c.settings = s
		next = s
		return nil
	})
	return next, err
}

// OpenEditor は id の画像で編集セッションを開きます。開いているセッションは先に閉じます。
// id が存在しない場合は何もせず false を返します。
func (c *Controller) OpenEditor(id string) (bool, error) {
	opened := false
	err := c.mutate(func() error {
		u, ok := c.collection.Get(id)
		if !ok {
			return nil
		}
		c.closeSessionLocked()

		tool := c.newTool()
		if err := tool.Load(u.Display.Data, u.Display.MediaType); err != nil {
			tool.Destroy()
			return newError(CodeInvalidInput, "画像を読み込めませんでした。", err)
		}
		if !u.CropBaked && u.Rotation != 0 {
			tool.Rotate(u.Rotation)
		}
		c.session = &EditSession{target: id, tool: tool}
		opened = true
		return nil
	})
	return opened, err
}

// Session は開いている編集セッションを返します。
func (c *Controller) Session() (SessionView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return SessionView{}, false
	}
	return SessionView{Target: c.session.target, CropBox: rectOf(c.session.tool.CropBox())}, true
}

// ApplyTool は編集ツールの操作を一時状態に反映します。
func (c *Controller) ApplyTool(action ToolAction) error {
	return c.mutate(func() error {
		if c.session == nil {
			return ErrNoActiveSession
		}
		return action.apply(c.session.tool)
	})
}

// SetCropBox は表示座標でトリミング枠を設定します。
func (c *Controller) SetCropBox(r image.Rectangle) error {
	return c.mutate(func() error {
		if c.session == nil {
			return ErrNoActiveSession
		}
		if err := c.session.tool.SetCropBox(r); err != nil {
			return newError(CodeInvalidInput, "トリミング範囲が画像の外側です。", err)
		}
		return nil
	})
}

// Commit は編集結果を画像として確定し、対象の表示画像を置き換えてセッションを閉じます。
// 失敗した場合は対象の画像を一切変更せず、セッションも開いたままです。
func (c *Controller) Commit() (UnitView, error) {
	var view UnitView
	err := c.mutate(func() error {
		if c.session == nil {
			return ErrNoActiveSession
		}
		u, ok := c.collection.Get(c.session.target)
		if !ok {
			c.closeSessionLocked()
			return ErrNoActiveSession
		}
		data, mediaType, err := c.session.tool.Result()
		if err != nil {
			return &Error{Code: CodeNoActiveCropArea, Message: ErrNoActiveCropArea.Message, Err: err}
		}
		handle, err := c.store.Acquire(u.ID, data, mediaType)
		if err != nil {
			return fmt.Errorf("トリミング結果の保存に失敗しました: %w", err)
		}

		old := u.Display.Handle
		u.Display = Artifact{Handle: handle, MediaType: mediaType, Data: data}
		u.CropBaked = true
		u.Rotation = 0
		c.release(old)
		c.closeSessionLocked()
		view = u.view()
		return nil
	})
	return view, err
}

// CancelEditor は編集セッションを破棄します。コレクションは変更しません。何度呼んでも安全です。
func (c *Controller) CancelEditor() {
	_ = c.mutate(func() error {
		c.closeSessionLocked()
		return nil
	})
}

// Snapshot は現在の並び順と設定から出力リクエストを作ります。
func (c *Controller) Snapshot() (pdf.ExportRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return pdf.ExportRequest{}, ErrClosed
	}
	units := c.collection.Units()
	if len(units) == 0 {
		return pdf.ExportRequest{}, pdf.ErrEmptyCollection
	}
	pages := make([]pdf.PageInput, len(units))
	for i, u := range units {
		pages[i] = pdf.PageInput{
			UnitID:    u.ID,
			Name:      u.Source.Name,
			MediaType: u.Display.MediaType,
			Data:      u.Display.Data,
			Rotation:  u.Rotation,
		}
	}
	return pdf.ExportRequest{Pages: pages, Settings: c.settings}, nil
}

// Preview は画像の表示用ハンドルの内容を開きます。
func (c *Controller) Preview(id string) (io.ReadCloser, string, int64, error) {
	c.mu.Lock()
	u, ok := c.collection.Get(id)
	var handle string
	if ok {
		handle = u.Display.Handle
	}
	c.mu.Unlock()
	if !ok {
		return nil, "", 0, ErrUnitNotFound
	}
	return c.store.Open(handle)
}

// Close はセッションとすべてのハンドルを解放します。以降の操作は ErrClosed になります。
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closeSessionLocked()
	c.releaseAllLocked()
	c.collection = newCollection()
	c.closed = true
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) closeSessionLocked() {
	if c.session == nil {
		return
	}
	c.session.close()
	c.session = nil
}

func (c *Controller) releaseAllLocked() {
	for _, u := range c.collection.Units() {
		c.release(u.Display.Handle)
	}
}

func (c *Controller) release(handle string) {
	if handle == "" {
		return
	}
	if err := c.store.Release(handle); err != nil {
		c.logger.Warn().Err(err).Str("handle", handle).Msg("failed to release preview handle")
	}
}
