package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/unixpickle/latentmesh/mc"
	"github.com/unixpickle/latentmesh/mesh"
	"github.com/unixpickle/latentmesh/npy"
	"github.com/unixpickle/latentmesh/pipeline"
	"github.com/unixpickle/latentmesh/tensor"
	"github.com/unixpickle/latentmesh/volume"
	"k8s.io/klog/v2"
)

type globalFlags struct {
	cfg    pipeline.Config
	ortLib string
	quiet  bool
}

// NewCommand builds the latentmesh command tree.
func NewCommand(models modelSource) *cobra.Command {
	g := &globalFlags{cfg: pipeline.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "latentmesh",
		Short: "Decode latent embeddings into triangle meshes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.cfg.Validate()
		},
		SilenceUsage: true,
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	pf := cmd.PersistentFlags()
	pf.IntVar(&g.cfg.Channels, "channels", g.cfg.Channels, "embedding channel width (64 or 128)")
	pf.IntVar(&g.cfg.GridSize, "grid", g.cfg.GridSize, "edge length of decoded volumes")
	pf.IntVar(&g.cfg.DecoderChannels, "decoder-channels", g.cfg.DecoderChannels,
		"channels in the decoder output (scalar field plus offsets)")
	pf.IntVar(&g.cfg.Frames, "frames", g.cfg.Frames, "number of interpolation frames")
	pf.Float32Var(&g.cfg.Isovalue, "iso", g.cfg.Isovalue, "isosurface level")
	pf.BoolVar(&g.cfg.ApplyOffsets, "offsets", g.cfg.ApplyOffsets, "displace vertices by decoded offsets")
	pf.IntVar(&g.cfg.Workers, "workers", g.cfg.Workers, "frames meshed concurrently")
	pf.Int64Var(&g.cfg.Seed, "seed", 0, "channel-code seed (0 uses the clock)")
	pf.StringVarP(&g.cfg.OutputDir, "out", "o", g.cfg.OutputDir, "output directory")
	pf.BoolVar(&g.cfg.SaveSTL, "stl", false, "also write STL files")
	pf.BoolVar(&g.cfg.SaveVolumes, "save-volumes", false, "also write decoded volumes as .npy")
	pf.StringVar(&g.ortLib, "ort-lib", "", "path to the onnxruntime shared library")
	pf.BoolVarP(&g.quiet, "quiet", "q", false, "hide progress bars")

	cmd.AddCommand(decodeCmd(g, models))
	cmd.AddCommand(interpolateCmd(g, models))
	cmd.AddCommand(runCmd(g, models))
	cmd.AddCommand(meshCmd(g))
	cmd.AddCommand(splitCmd(g))
	return cmd
}

func decodeCmd(g *globalFlags, models modelSource) *cobra.Command {
	var modelPath string
	var index int

	cmd := &cobra.Command{
		Use:   "decode <latent.npy|latent.bin>",
		Short: "Decode one embedding and mesh it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dec, closer, err := models.Decoder(g.ortLib, modelPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			p, err := pipeline.New(g.cfg, dec, nil)
			if err != nil {
				return err
			}
			emb, err := p.LoadEmbedding(args[0], index)
			if err != nil {
				return err
			}
			v, err := p.DecodeChannelFirst(emb)
			if err != nil {
				return err
			}
			m, err := p.Mesh(v, meshProgress(cmd.ErrOrStderr(), g.quiet, "meshing"))
			if err != nil {
				return err
			}

			name := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			path, err := p.SaveMesh(fmt.Sprintf("%s_mesh%d", name, g.cfg.GridSize), m)
			if err != nil {
				return err
			}
			if g.cfg.SaveVolumes {
				if _, err := p.SaveVolume(fmt.Sprintf("%s_decoder%d", name, g.cfg.GridSize), v); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d triangles (%s)\n", path, m.NumTriangles(), p.Timings())
			return nil
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "decoder.onnx", "decoder model")
	cmd.Flags().IntVar(&index, "index", 0, "embedding index within a raw .bin file")
	return cmd
}

func interpolateCmd(g *globalFlags, models modelSource) *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "interpolate <a.npy> <b.npy>",
		Short: "Interpolate two embeddings into frame files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			interp, closer, err := models.Interpolator(g.ortLib, modelPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			p, err := pipeline.New(g.cfg, nil, interp)
			if err != nil {
				return err
			}
			a, b, err := loadPair(p, args)
			if err != nil {
				return err
			}
			res, err := p.Interpolate(a, b)
			if err != nil {
				return err
			}
			if res.Warning != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", res.Warning)
			}
			paths, err := p.SaveFrames(res.Frames)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "interpolator.onnx", "interpolation model")
	return cmd
}

func runCmd(g *globalFlags, models modelSource) *cobra.Command {
	var decoderPath, interpolatorPath string

	cmd := &cobra.Command{
		Use:   "run <a.npy> <b.npy>",
		Short: "Interpolate two embeddings, then decode and mesh every frame",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			interp, interpCloser, err := models.Interpolator(g.ortLib, interpolatorPath)
			if err != nil {
				return err
			}
			defer interpCloser.Close()
			dec, decCloser, err := models.Decoder(g.ortLib, decoderPath)
			if err != nil {
				return err
			}
			defer decCloser.Close()

			p, err := pipeline.New(g.cfg, dec, interp)
			if err != nil {
				return err
			}
			a, b, err := loadPair(p, args)
			if err != nil {
				return err
			}
			res, err := p.Run(a, b)
			if err != nil {
				return err
			}
			if res.Warning != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", res.Warning)
			}
			for _, fr := range res.Frames {
				fmt.Fprintf(cmd.OutOrStdout(), "frame %d: %s (%d triangles)\n", fr.Index,
					fr.MeshPath, fr.Mesh.NumTriangles())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s\n", res.RunID, res.Timings)
			return nil
		},
	}
	cmd.Flags().StringVar(&decoderPath, "decoder", "decoder.onnx", "decoder model")
	cmd.Flags().StringVar(&interpolatorPath, "interpolator", "interpolator.onnx", "interpolation model")
	return cmd
}

func meshCmd(g *globalFlags) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "mesh <volume.npy|volume.json>",
		Short: "Extract the isosurface of a saved volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := readVolume(args[0])
			if err != nil {
				return err
			}
			m, err := mc.Extract(v, mc.Options{
				Isovalue:     g.cfg.Isovalue,
				ApplyOffsets: g.cfg.ApplyOffsets,
				Progress:     meshProgress(cmd.ErrOrStderr(), g.quiet, "meshing"),
			})
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".obj"
			}
			info, err := mesh.SaveOBJ(outPath, m)
			if err != nil {
				return err
			}
			if g.cfg.SaveSTL {
				if err := mesh.SaveSTL(strings.TrimSuffix(outPath, ".obj")+".stl", m); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d triangles (%s)\n", outPath, m.NumTriangles(),
				humanize.Bytes(uint64(info.Size())))
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "output", "", "OBJ path (default: input with .obj extension)")
	return cmd
}

func splitCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split <frames.npy|frames.bin>",
		Short: "Split a stacked interpolator output into frame files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []float32
			if strings.EqualFold(filepath.Ext(args[0]), ".npy") {
				arr, err := npy.ReadFile(args[0])
				if err != nil {
					return err
				}
				data = arr.Data
			} else {
				var err error
				if data, err = npy.ReadRawFile(args[0]); err != nil {
					return err
				}
			}
			frames, err := tensor.SplitFrames(data, g.cfg.Frames,
				tensor.EmbeddingShape(g.cfg.Channels).Size())
			var warning *tensor.StructuralWarning
			if errors.As(err, &warning) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", warning)
			} else if err != nil {
				return err
			}
			if len(frames) == 0 {
				return errors.Wrap(pipeline.ErrNoFrames, args[0])
			}

			p, err := pipeline.New(g.cfg, nil, nil)
			if err != nil {
				return err
			}
			paths, err := p.SaveFrames(frames)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	return cmd
}

func loadPair(p *pipeline.Pipeline, args []string) (a, b []float32, err error) {
	if a, err = p.LoadEmbedding(args[0], 0); err != nil {
		return
	}
	b, err = p.LoadEmbedding(args[1], 0)
	return
}

func readVolume(path string) (*volume.Volume, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		f, err := os.Open(path)
		if err != nil {
			return nil, npy.WrapIOFailure(err, "open %s", path)
		}
		defer f.Close()
		return volume.ReadJSON(f)
	}
	arr, err := npy.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return volume.FromArray(arr.Shape, arr.Data)
}
