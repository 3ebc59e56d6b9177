package gpu

import "github.com/cogentcore/webgpu/wgpu"

// SurfaceTarget is a swap-chain texture view for the current frame.
type SurfaceTarget struct {
	View   *wgpu.TextureView
	Width  int
	Height int
}

func (t *SurfaceTarget) Size() (int, int) { return t.Width, t.Height }

// ClearTarget fills t with c. Draws load the existing contents, so a frame
// starts with a clear.
func (d *WgpuDevice) ClearTarget(t *SurfaceTarget, c wgpu.Color) {
	encoder, err := d.Device.CreateCommandEncoder(nil)
	if err != nil {
		d.logger.Errorf("wgpu: CreateCommandEncoder failed: %v", err)
		return
	}
	rPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       t.View,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: c,
		}},
	})
	if err := rPass.End(); err != nil {
		d.logger.Errorf("wgpu: clear pass End failed: %v", err)
	}
	cmd, err := encoder.Finish(nil)
	if err != nil {
		d.logger.Errorf("wgpu: Encoder Finish failed: %v", err)
		return
	}
	d.Queue.Submit(cmd)
}
