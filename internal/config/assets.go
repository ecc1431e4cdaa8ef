package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Asset maps a display symbol to the indexer's asset type identifier
type Asset struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	Key    string `yaml:"key" json:"key"`
}

type assetFile struct {
	Assets []Asset `yaml:"assets"`
}

// DefaultAssets returns the built-in Aptos stablecoin table
func DefaultAssets() []Asset {
	return []Asset{
		{Symbol: "USDt", Key: "0x357b0b74bc833e95a115ad22604854d6b0fca151cecd94111770e5d6ffc9dc2b"},
		{Symbol: "USDC", Key: "0xbae207659db88bea0cbead6da0ed00aac12edcdda169e591cd41c94180b46f3b"},
		{Symbol: "USDe", Key: "0xf37a8864fe737eb8ec2c2931047047cbaed1beed3fb0e5b7c5526dafd3b9c2e9"},
		{Symbol: "sUSDe", Key: "0xb30a694a344edee467d9f82330bbe7c3b89f440a1ecd2da1f3bca266560fce69"},
	}
}

// LoadAssets reads the asset table from a YAML file. An empty path yields the defaults.
func LoadAssets(path string) ([]Asset, error) {
	if path == "" {
		return DefaultAssets(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assets file: %w", err)
	}

	return ParseAssets(data)
}

// ParseAssets decodes and validates a YAML asset table
func ParseAssets(data []byte) ([]Asset, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var file assetFile
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse assets file: %w", err)
	}

	if len(file.Assets) == 0 {
		return nil, errors.New("assets file defines no assets")
	}

	for i := range file.Assets {
		file.Assets[i].Symbol = strings.TrimSpace(file.Assets[i].Symbol)
		file.Assets[i].Key = strings.TrimSpace(file.Assets[i].Key)
	}

	if err := validateAssets(file.Assets); err != nil {
		return nil, err
	}
	return file.Assets, nil
}

// AssetKeys returns the keys of the table in order
func AssetKeys(assets []Asset) []string {
	keys := make([]string, len(assets))
	for i, a := range assets {
		keys[i] = a.Key
	}
	return keys
}

func validateAssets(assets []Asset) error {
	symbols := make(map[string]bool, len(assets))
	keys := make(map[string]bool, len(assets))

	for i, a := range assets {
		if a.Symbol == "" || a.Key == "" {
			return fmt.Errorf("asset %d needs both symbol and key", i)
		}
		if symbols[a.Symbol] {
			return fmt.Errorf("duplicate asset symbol %q", a.Symbol)
		}
		if keys[a.Key] {
			return fmt.Errorf("duplicate asset key for %q", a.Symbol)
		}
		symbols[a.Symbol] = true
		keys[a.Key] = true
	}
	return nil
}
