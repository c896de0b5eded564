package model

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Arch identifies a supported segmentation architecture. The set is closed:
// unknown names are rejected when configuration is parsed, not when the
// model is built.
type Arch int

const (
	Unet Arch = iota
	UnetPlusPlus
	DeepLabV3
	DeepLabV3Plus
	FPN
	Linknet
	PSPNet
)

var archNames = map[Arch]string{
	Unet:          "Unet",
	UnetPlusPlus:  "Unet++",
	DeepLabV3:     "DeepLabV3",
	DeepLabV3Plus: "DeepLabV3+",
	FPN:           "FPN",
	Linknet:       "Linknet",
	PSPNet:        "PSPNet",
}

func (a Arch) String() string {
	if name, ok := archNames[a]; ok {
		return name
	}
	return "Unknown"
}

// DirName returns the architecture name in a form safe for directory names
// ("Unet++" becomes "UnetPlusPlus").
func (a Arch) DirName() string {
	return strings.ReplaceAll(a.String(), "+", "Plus")
}

// ParseArch resolves an architecture name. The error message lists the
// recognized set so a mistyped CLI flag is self-explanatory.
func ParseArch(name string) (Arch, error) {
	for arch, n := range archNames {
		if n == name {
			return arch, nil
		}
	}
	return 0, errors.Errorf("unknown architecture %q, supported: %s", name, strings.Join(ArchNames(), ", "))
}

// ArchNames returns the recognized architecture names in stable order.
func ArchNames() []string {
	names := make([]string, 0, len(archNames))
	for _, n := range archNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
