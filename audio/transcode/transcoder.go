// Package transcode decodes local audio files with FFmpeg and re-encodes
// them as 48kHz stereo Opus frames of 20ms.
package transcode

import (
	"context"
	"errors"

	"github.com/asticode/go-astiav"
)

const (
	sampleRate   = 48000
	frameSamples = 960
	opusBitRate  = 128000
	fifoCapacity = frameSamples * 2
)

type Transcoder struct {
	inputCtx               *astiav.FormatContext
	decoderCtx, encoderCtx *astiav.CodecContext
	audioStreamIndex       int
	packet                 *astiav.Packet
	frame                  *astiav.Frame
	resampleCtx            *astiav.SoftwareResampleContext
	resampleFrame          *astiav.Frame
	fifo                   *astiav.AudioFifo
	onFrame                func([]byte)
	pts                    int64
}

// Open prepares a transcoder for the file at path.
func Open(path string) (*Transcoder, error) {
	t := &Transcoder{
		packet:        astiav.AllocPacket(),
		frame:         astiav.AllocFrame(),
		resampleFrame: astiav.AllocFrame(),
	}
	if err := t.openInput(path); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.setupDecoder(); err != nil {
		t.Close()
		return nil, err
	}
	if err := t.setupEncoder(); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *Transcoder) openInput(path string) error {
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc format context")
	}
	if err := t.inputCtx.OpenInput(path, nil, nil); err != nil {
		t.inputCtx.Free()
		t.inputCtx = nil
		return err
	}
	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}
	t.audioStreamIndex = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStreamIndex = s.Index()
			break
		}
	}
	if t.audioStreamIndex == -1 {
		return errors.New("no audio stream")
	}
	return nil
}

func (t *Transcoder) setupDecoder() error {
	p := t.inputCtx.Streams()[t.audioStreamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoderCtx = astiav.AllocCodecContext(d)
	if err := p.ToCodecContext(t.decoderCtx); err != nil {
		return err
	}
	return t.decoderCtx.Open(d, nil)
}

func (t *Transcoder) setupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no opus encoder")
	}
	t.encoderCtx = astiav.AllocCodecContext(e)
	t.encoderCtx.SetBitRate(opusBitRate)
	t.encoderCtx.SetSampleRate(sampleRate)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, sampleRate))
	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(e, o); err != nil {
		return err
	}
	// The resampler configures itself from the first converted frame.
	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

// Transcode reads the whole input and passes every encoded Opus packet to
// on. It returns ctx.Err() when cancelled.
func (t *Transcoder) Transcode(ctx context.Context, on func([]byte)) error {
	defer t.packet.Unref()
	t.onFrame = on
	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), fifoCapacity)
	defer func() {
		t.fifo.Free()
		t.fifo = nil
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}
		if t.packet.StreamIndex() != t.audioStreamIndex {
			t.packet.Unref()
			continue
		}
		if err := t.decoderCtx.SendPacket(t.packet); err != nil {
			t.packet.Unref()
			return err
		}
		t.packet.Unref()
		t.drainDecoder()
		for t.fifo.Size() >= frameSamples {
			if err := t.encodeFromFifo(frameSamples); err != nil {
				return err
			}
		}
	}

	// Flush the decoder, then whatever is left in the FIFO, then the encoder.
	_ = t.decoderCtx.SendPacket(nil)
	t.drainDecoder()
	for t.fifo.Size() > 0 {
		n := min(t.fifo.Size(), frameSamples)
		if err := t.encodeFromFifo(n); err != nil {
			return err
		}
	}
	if err := t.encoderCtx.SendFrame(nil); err == nil {
		t.receivePackets()
	}
	return nil
}

// drainDecoder resamples every decoded frame into the FIFO.
func (t *Transcoder) drainDecoder() {
	for {
		if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
			return
		}
		nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, sampleRate)))
		if nb > 0 {
			t.prepareResampleFrame(nb)
			if t.resampleCtx.ConvertFrame(t.frame, t.resampleFrame) == nil {
				_, _ = t.fifo.Write(t.resampleFrame)
			}
		}
		t.frame.Unref()
	}
}

func (t *Transcoder) prepareResampleFrame(nb int) {
	t.resampleFrame.Unref()
	t.resampleFrame.SetNbSamples(nb)
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
	_ = t.resampleFrame.AllocBuffer(0)
}

func (t *Transcoder) encodeFromFifo(n int) error {
	t.prepareResampleFrame(n)
	if _, err := t.fifo.Read(t.resampleFrame); err != nil {
		return err
	}
	t.resampleFrame.SetPts(t.pts)
	t.pts += int64(n)
	if err := t.encoderCtx.SendFrame(t.resampleFrame); err != nil {
		return err
	}
	t.receivePackets()
	return nil
}

func (t *Transcoder) receivePackets() {
	for {
		p := astiav.AllocPacket()
		if t.encoderCtx.ReceivePacket(p) != nil {
			p.Free()
			return
		}
		d := p.Data()
		fd := make([]byte, len(d))
		copy(fd, d)
		p.Free()
		if t.onFrame != nil {
			t.onFrame(fd)
		}
	}
}

func (t *Transcoder) Close() {
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
		t.resampleCtx = nil
	}
	if t.resampleFrame != nil {
		t.resampleFrame.Free()
		t.resampleFrame = nil
	}
	if t.packet != nil {
		t.packet.Free()
		t.packet = nil
	}
	if t.frame != nil {
		t.frame.Free()
		t.frame = nil
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
		t.decoderCtx = nil
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
		t.encoderCtx = nil
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
		t.inputCtx = nil
	}
}
