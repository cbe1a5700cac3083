package converter

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/scanforge/internal/imaging"
)

// recordingTool は imaging.Tool をラップし、破棄と失敗を制御できるようにします。
type recordingTool struct {
	*imaging.Tool
	destroyed *int
	resultErr error
	rotations []int
}

func (r *recordingTool) Rotate(deg int) {
	r.rotations = append(r.rotations, deg)
	r.Tool.Rotate(deg)
}

func (r *recordingTool) Result() ([]byte, string, error) {
	if r.resultErr != nil {
		return nil, "", r.resultErr
	}
	return r.Tool.Result()
}

func (r *recordingTool) Destroy() {
	*r.destroyed++
	r.Tool.Destroy()
}

type toolRecorder struct {
	destroyed int
	tools     []*recordingTool
	resultErr error
}

func (rec *toolRecorder) factory() CropTool {
	tool := &recordingTool{Tool: imaging.NewTool(), destroyed: &rec.destroyed, resultErr: rec.resultErr}
	rec.tools = append(rec.tools, tool)
	return tool
}

func withRecorder(rec *toolRecorder) func(*Options) {
	return func(o *Options) { o.NewTool = rec.factory }
}

func TestOpenEditorMissingUnitIsNoop(t *testing.T) {
	rec := &toolRecorder{}
	f := newFixture(t, withRecorder(rec))
	opened, err := f.ctrl.OpenEditor("missing")
	require.NoError(t, err)
	assert.False(t, opened)
	_, ok := f.ctrl.Session()
	assert.False(t, ok)
	assert.Empty(t, rec.tools)
}

func TestOpenEditorPrimesRotationUnlessBaked(t *testing.T) {
	rec := &toolRecorder{}
	f := newFixture(t, withRecorder(rec))
	id := f.ingest(t, pngFile(t, "a.png", 4, 2))[0]
	require.NoError(t, f.ctrl.RotateOne(id, 90, nil))

	_, err := f.ctrl.OpenEditor(id)
	require.NoError(t, err)
	assert.Equal(t, []int{90}, rec.tools[0].rotations)
	session, ok := f.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, id, session.Target)
	// 90度回転済みなので枠は縦長になる
	assert.Equal(t, Rect{Width: 2, Height: 4}, session.CropBox)

	_, err = f.ctrl.Commit()
	require.NoError(t, err)

	_, err = f.ctrl.OpenEditor(id)
	require.NoError(t, err)
	assert.Empty(t, rec.tools[1].rotations, "baked units open without extra rotation")
	session, _ = f.ctrl.Session()
	assert.Equal(t, Rect{Width: 2, Height: 4}, session.CropBox)
}

func TestOpenEditorTearsDownPreviousSession(t *testing.T) {
	rec := &toolRecorder{}
	f := newFixture(t, withRecorder(rec))
	ids := f.ingest(t, pngFile(t, "a.png", 2, 2), pngFile(t, "b.png", 2, 2))

	_, err := f.ctrl.OpenEditor(ids[0])
	require.NoError(t, err)
	_, err = f.ctrl.OpenEditor(ids[1])
	require.NoError(t, err)

	assert.Equal(t, 1, rec.destroyed)
	session, ok := f.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, ids[1], session.Target)
}

func TestCommitBakesRotationIntoArtifact(t *testing.T) {
	for _, rotation := range []int{0, 90, 180, 270} {
		f := newFixture(t)
		id := f.ingest(t, pngFile(t, "a.png", 4, 2))[0]
		require.NoError(t, f.ctrl.RotateOne(id, rotation, nil))

		_, err := f.ctrl.OpenEditor(id)
		require.NoError(t, err)
		view, err := f.ctrl.Commit()
		require.NoError(t, err)

		u := f.unit(t, id)
		assert.True(t, u.CropBaked, "rotation %d", rotation)
		assert.Equal(t, 0, u.Rotation, "rotation %d", rotation)
		assert.True(t, view.CropBaked)

		cfg, _, err := imaging.DecodeConfig(u.Display.Data)
		require.NoError(t, err)
		if rotation%180 == 0 {
			assert.Equal(t, image.Pt(4, 2), image.Pt(cfg.Width, cfg.Height))
		} else {
			assert.Equal(t, image.Pt(2, 4), image.Pt(cfg.Width, cfg.Height))
		}

		_, ok := f.ctrl.Session()
		assert.False(t, ok)
		assert.Equal(t, 1, f.store.Live(), "the previous display handle is released")
	}
}

func TestCommitAppliesCropAndFlip(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t, pngFile(t, "a.png", 4, 2))[0]
	_, err := f.ctrl.OpenEditor(id)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.ApplyTool(ActionFlipH))
	require.NoError(t, f.ctrl.ApplyTool(ActionRotateRight))
	require.NoError(t, f.ctrl.SetCropBox(image.Rect(0, 0, 2, 3)))
	_, err = f.ctrl.Commit()
	require.NoError(t, err)

	cfg, _, err := imaging.DecodeConfig(f.unit(t, id).Display.Data)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Width)
	assert.Equal(t, 3, cfg.Height)
}

func TestCancelLeavesUnitIdentical(t *testing.T) {
	rec := &toolRecorder{}
	f := newFixture(t, withRecorder(rec))
	id := f.ingest(t, pngFile(t, "a.png", 3, 2))[0]
	require.NoError(t, f.ctrl.RotateOne(id, 180, nil))
	before := f.unit(t, id)

	_, err := f.ctrl.OpenEditor(id)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.ApplyTool(ActionRotateLeft))
	require.NoError(t, f.ctrl.ApplyTool(ActionFlipV))
	require.NoError(t, f.ctrl.SetCropBox(image.Rect(0, 0, 1, 1)))

	f.ctrl.CancelEditor()
	f.ctrl.CancelEditor()

	assert.Equal(t, before, f.unit(t, id))
	assert.Equal(t, 1, rec.destroyed)
	_, ok := f.ctrl.Session()
	assert.False(t, ok)
	assert.Equal(t, 1, f.store.Live())
}

func TestCommitWithoutRenderableResultKeepsSessionOpen(t *testing.T) {
	rec := &toolRecorder{resultErr: imaging.ErrEmptyCrop}
	f := newFixture(t, withRecorder(rec))
	id := f.ingest(t, pngFile(t, "a.png", 2, 2))[0]
	before := f.unit(t, id)

	_, err := f.ctrl.OpenEditor(id)
	require.NoError(t, err)
	_, err = f.ctrl.Commit()
	assert.ErrorIs(t, err, ErrNoActiveCropArea)
	assert.True(t, errors.Is(err, imaging.ErrEmptyCrop))

	session, ok := f.ctrl.Session()
	assert.True(t, ok, "session stays open so the user can retry")
	assert.Equal(t, id, session.Target)
	assert.Equal(t, before, f.unit(t, id))
	assert.Equal(t, 0, rec.destroyed)
}

func TestEditorOperationsWithoutSession(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, pngFile(t, "a.png", 2, 2))

	_, err := f.ctrl.Commit()
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.ErrorIs(t, f.ctrl.ApplyTool(ActionFlipH), ErrNoActiveSession)
	assert.ErrorIs(t, f.ctrl.SetCropBox(image.Rect(0, 0, 1, 1)), ErrNoActiveSession)
	f.ctrl.CancelEditor()
}

func TestApplyToolRejectsUnknownAction(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t, pngFile(t, "a.png", 2, 2))[0]
	_, err := f.ctrl.OpenEditor(id)
	require.NoError(t, err)
	assert.ErrorIs(t, f.ctrl.ApplyTool("zoom"), &Error{Code: CodeInvalidInput})
}

func TestSetCropBoxOutsideImage(t *testing.T) {
	f := newFixture(t)
	id := f.ingest(t, pngFile(t, "a.png", 2, 2))[0]
	_, err := f.ctrl.OpenEditor(id)
	require.NoError(t, err)
	assert.ErrorIs(t, f.ctrl.SetCropBox(image.Rect(5, 5, 9, 9)), &Error{Code: CodeInvalidInput})
	session, _ := f.ctrl.Session()
	assert.Equal(t, Rect{Width: 2, Height: 2}, session.CropBox)
}

func TestRemovingSessionTargetForceClosesSession(t *testing.T) {
	rec := &toolRecorder{}
	f := newFixture(t, withRecorder(rec))
	ids := f.ingest(t, pngFile(t, "a.png", 2, 2), pngFile(t, "b.png", 2, 2))
	other := f.unit(t, ids[1])

	_, err := f.ctrl.OpenEditor(ids[0])
	require.NoError(t, err)
	removed, err := f.ctrl.Remove(ids[0])
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok := f.ctrl.Session()
	assert.False(t, ok)
	assert.Equal(t, 1, rec.destroyed)
	assert.Equal(t, 1, f.ctrl.State().Count)
	assert.Equal(t, other, f.unit(t, ids[1]))
	_, err = f.ctrl.Commit()
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestReorderWhileSessionOpenKeepsSession(t *testing.T) {
	f := newFixture(t)
	ids := f.ingest(t, pngFile(t, "a.png", 2, 2), pngFile(t, "b.png", 2, 2))
	_, err := f.ctrl.OpenEditor(ids[0])
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Reorder([]string{ids[1], ids[0]}))
	session, ok := f.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, ids[0], session.Target)
	_, err = f.ctrl.Commit()
	require.NoError(t, err)
	assert.True(t, f.unit(t, ids[0]).CropBaked)
}

func TestRotateAllWhileSessionOpenIsBakedOnCommit(t *testing.T) {
	rec := &toolRecorder{}
	f := newFixture(t, withRecorder(rec))
	id := f.ingest(t, pngFile(t, "a.png", 4, 2))[0]
	_, err := f.ctrl.OpenEditor(id)
	require.NoError(t, err)

	rotated, err := f.ctrl.RotateAll(90)
	require.NoError(t, err)
	assert.Equal(t, 1, rotated)
	assert.Equal(t, []int{90}, rec.tools[0].rotations)
	session, ok := f.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, Rect{Width: 2, Height: 4}, session.CropBox)

	_, err = f.ctrl.Commit()
	require.NoError(t, err)
	u := f.unit(t, id)
	assert.Equal(t, 0, u.Rotation)
	cfg, _, err := imaging.DecodeConfig(u.Display.Data)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(2, 4), image.Pt(cfg.Width, cfg.Height))
}

func TestRotateOneWhileSessionOpenFollowsTarget(t *testing.T) {
	rec := &toolRecorder{}
	f := newFixture(t, withRecorder(rec))
	ids := f.ingest(t, pngFile(t, "a.png", 4, 2), pngFile(t, "b.png", 4, 2))
	_, err := f.ctrl.OpenEditor(ids[0])
	require.NoError(t, err)

	require.NoError(t, f.ctrl.RotateOne(ids[1], 90, nil))
	assert.Empty(t, rec.tools[0].rotations, "other units do not touch the editor")
	require.NoError(t, f.ctrl.RotateOne(ids[0], 270, nil))
	assert.Equal(t, []int{270}, rec.tools[0].rotations)

	_, err = f.ctrl.Commit()
	require.NoError(t, err)
	cfg, _, err := imaging.DecodeConfig(f.unit(t, ids[0]).Display.Data)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(2, 4), image.Pt(cfg.Width, cfg.Height))
}

func TestRotateOneResetReloadsOpenSession(t *testing.T) {
	rec := &toolRecorder{}
	f := newFixture(t, withRecorder(rec))
	id := f.ingest(t, pngFile(t, "a.png", 4, 2))[0]
	_, err := f.ctrl.OpenEditor(id)
	require.NoError(t, err)
	require.NoError(t, f.ctrl.SetCropBox(image.Rect(0, 0, 2, 1)))
	_, err = f.ctrl.Commit()
	require.NoError(t, err)

	_, err = f.ctrl.OpenEditor(id)
	require.NoError(t, err)
	accept := ConfirmFunc(func(string) bool { return true })
	require.NoError(t, f.ctrl.RotateOne(id, 90, accept))

	require.Len(t, rec.tools, 3)
	assert.Equal(t, 2, rec.destroyed, "the stale editor tool is released")
	assert.Equal(t, []int{90}, rec.tools[2].rotations)
	session, ok := f.ctrl.Session()
	require.True(t, ok)
	assert.Equal(t, id, session.Target)
	assert.Equal(t, Rect{Width: 2, Height: 4}, session.CropBox)

	_, err = f.ctrl.Commit()
	require.NoError(t, err)
	u := f.unit(t, id)
	assert.True(t, u.CropBaked)
	cfg, _, err := imaging.DecodeConfig(u.Display.Data)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(2, 4), image.Pt(cfg.Width, cfg.Height))
	assert.Equal(t, 1, f.store.Live())
}
