// Package embedded provides the JSON Schemas and vault starter files built
// into the intent binary. Schemas back `intent doctor` validation; starter
// files back `intent init` so a vault can be scaffolded anywhere without a
// checkout to copy from.
package embedded

import "embed"

// ConfigYAML is the raw starter ops/config.yaml.
//
//go:embed templates/config.yaml
var ConfigYAML []byte

// Schemas holds the JSON Schemas for the vault's machine state files, one
// per file under schemas/.
//
//go:embed schemas
var Schemas embed.FS

// Templates holds the starter markdown and config for a fresh vault. Use
// fs.WalkDir to extract files to disk.
//
//go:embed templates
var Templates embed.FS
