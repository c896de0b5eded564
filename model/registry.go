package model

import "fmt"

// Builder constructs a Network for one architecture.
type Builder func(cfg Config) (*Network, error)

// The registration table maps every supported architecture to its builder.
// Lookup failures cannot happen here: Arch values only exist after ParseArch
// has validated the name.
var registry = map[Arch]Builder{
	Unet:          buildUnet,
	UnetPlusPlus:  buildUnetPlusPlus,
	DeepLabV3:     buildDeepLabV3,
	DeepLabV3Plus: buildDeepLabV3Plus,
	FPN:           buildFPN,
	Linknet:       buildLinknet,
	PSPNet:        buildPSPNet,
}

// Build constructs the network for the given architecture tag.
func Build(arch Arch, cfg Config) (*Network, error) {
	return registry[arch](cfg)
}

// resnetStages mirrors the stage widths of the standard ResNet family used
// as encoder backbones.
func resnetStages(encoderName string) []StageSpec {
	widths := []int{64, 64, 128, 256, 512}
	switch encoderName {
	case "resnet50", "resnet101", "se_resnet50":
		widths = []int{64, 256, 512, 1024, 2048}
	}
	stages := make([]StageSpec, len(widths))
	scale := 2
	for i, w := range widths {
		stages[i] = StageSpec{Name: stageName("encoder", i), Channels: w, Scale: scale}
		scale *= 2
	}
	return stages
}

func stageName(prefix string, i int) string {
	return fmt.Sprintf("%s_stage%d", prefix, i)
}

func buildUnet(cfg Config) (*Network, error) {
	decoder := make([]StageSpec, 0, 5)
	for i, w := range []int{256, 128, 64, 32, 16} {
		decoder = append(decoder, StageSpec{Name: stageName("decoder", i), Channels: w, Scale: 16 >> i, Skip: true})
	}
	return newNetwork(Unet, cfg, resnetStages(cfg.EncoderName), decoder)
}

func buildUnetPlusPlus(cfg Config) (*Network, error) {
	// Nested skip pathways: every decoder stage re-aggregates all shallower
	// encoder features.
	decoder := make([]StageSpec, 0, 5)
	for i, w := range []int{256, 128, 64, 32, 16} {
		decoder = append(decoder, StageSpec{Name: stageName("nested", i), Channels: w, Scale: 16 >> i, Skip: true})
	}
	return newNetwork(UnetPlusPlus, cfg, resnetStages(cfg.EncoderName), decoder)
}

func buildDeepLabV3(cfg Config) (*Network, error) {
	decoder := []StageSpec{
		{Name: "aspp", Channels: 256, Scale: 8},
		{Name: "head", Channels: 256, Scale: 8},
	}
	return newNetwork(DeepLabV3, cfg, resnetStages(cfg.EncoderName), decoder)
}

func buildDeepLabV3Plus(cfg Config) (*Network, error) {
	decoder := []StageSpec{
		{Name: "aspp", Channels: 256, Scale: 16},
		{Name: "low_level_fusion", Channels: 48, Scale: 4, Skip: true},
		{Name: "head", Channels: 256, Scale: 4},
	}
	return newNetwork(DeepLabV3Plus, cfg, resnetStages(cfg.EncoderName), decoder)
}

func buildFPN(cfg Config) (*Network, error) {
	decoder := make([]StageSpec, 0, 4)
	for i := 0; i < 4; i++ {
		decoder = append(decoder, StageSpec{Name: stageName("pyramid", i), Channels: 256, Scale: 32 >> i, Skip: true})
	}
	decoder = append(decoder, StageSpec{Name: "segmentation_head", Channels: 128, Scale: 4})
	return newNetwork(FPN, cfg, resnetStages(cfg.EncoderName), decoder)
}

func buildLinknet(cfg Config) (*Network, error) {
	decoder := make([]StageSpec, 0, 5)
	for i, w := range []int{256, 128, 64, 32, 16} {
		// Linknet adds, rather than concatenates, the encoder features.
		decoder = append(decoder, StageSpec{Name: stageName("link", i), Channels: w, Scale: 16 >> i, Skip: true})
	}
	return newNetwork(Linknet, cfg, resnetStages(cfg.EncoderName), decoder)
}

func buildPSPNet(cfg Config) (*Network, error) {
	decoder := []StageSpec{
		{Name: "pyramid_pool", Channels: 512, Scale: 8},
		{Name: "bottleneck", Channels: 512, Scale: 8},
	}
	return newNetwork(PSPNet, cfg, resnetStages(cfg.EncoderName), decoder)
}
