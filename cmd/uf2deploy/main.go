package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pelletier/go-toml"
	"github.com/schollz/progressbar/v3"

	"github.com/nazo6/uf2deploy/uf2"
)

const (
	AppVersion = "0.2.0"
	ConfigName = "uf2deploy.toml"
)

// Quick way to fail on error, since most commands are "doing" something on
// behalf of something else.
func fatalIfErr(subject string, doing string, err error) {
	if err != nil {
		log.Fatalf("%s - Couldn't %s: %s", subject, doing, err)
	}
}

// Optional defaults file; any flag left unset on the command line falls
// back to what's in here.
type FileConfig struct {
	Family     string `toml:"family"`
	DeployPath string `toml:"deploy_path"`
	ResetPort  string `toml:"reset_port"`
	RetryCount int    `toml:"retry_count"`
}

var fileConfig FileConfig

func loadConfig(path string) {
	if path == "" {
		// Only auto-load when the file is actually there
		if _, err := os.Stat(ConfigName); err != nil {
			return
		}
		path = ConfigName
	}
	data, err := os.ReadFile(path)
	fatalIfErr(path, "read config file", err)
	err = toml.Unmarshal(data, &fileConfig)
	fatalIfErr(path, "parse config file", err)
	log.Printf("Loaded config from %s\n", path)
}

func resolveFamily(family string) uint32 {
	if family == "" {
		family = fileConfig.Family
	}
	if family == "" {
		log.Fatalf("No family given (use --family or set one in %s)\n", ConfigName)
	}
	id, err := uf2.ParseFamily(family)
	fatalIfErr(family, "resolve family", err)
	return id
}

func parseBaseAddr(baseAddr string) *uint32 {
	if baseAddr == "" {
		return nil
	}
	addr, err := uf2.ParseUint32(baseAddr)
	fatalIfErr(baseAddr, "parse base address", err)
	return &addr
}

// Progress observer backed by a byte progressbar. Each attempt restarts at
// zero, so a fresh bar is built whenever the count resets.
func newProgressObserver(description string) uf2.ProgressFunc {
	var bar *progressbar.ProgressBar
	return func(copied int64, total int64) {
		if bar == nil || copied == 0 {
			bar = progressbar.DefaultBytes(total, description)
		}
		bar.Set64(copied)
	}
}

// **********************************
// *       CONVERT COMMANDS         *
// **********************************

type DeployCmd struct {
	Family     string `short:"f" help:"UF2 family name or number (see list-families)"`
	BaseAddr   string `short:"b" help:"Override the base address (default: read from the ELF)"`
	Path       string `short:"p" help:"Where to deploy the uf2; 'auto' scans for a bootloader volume. Omit to only convert."`
	RetryCount int    `default:"-1" help:"Deploy attempts before giving up (default 40)"`
	ResetPort  string `help:"Serial port to touch at 1200 baud first ('auto' to scan); omit to skip the reset"`
	ElfPath    string `arg:"" type:"existingfile" help:"Path of the elf file, usually produced by your build"`
}

func (c *DeployCmd) Run() error {
	family := resolveFamily(c.Family)
	result, err := uf2.ConvertFile(c.ElfPath, family, parseBaseAddr(c.BaseAddr), "auto")
	fatalIfErr(c.ElfPath, "convert to uf2", err)
	log.Printf("Generated %s (%s)\n", result.UF2Path, humanize.Bytes(uint64(result.UF2Size)))

	path := c.Path
	if path == "" {
		path = fileConfig.DeployPath
	}
	if path == "" {
		log.Printf("Path is not specified. Skipping deploy.\n")
		PrintJson(result)
		return nil
	}

	resetPort := c.ResetPort
	if resetPort == "" {
		resetPort = fileConfig.ResetPort
	}
	if resetPort != "" {
		port, err := uf2.ResetToBootloader(resetPort)
		fatalIfErr(resetPort, "reset device to bootloader", err)
		log.Printf("Touched %s at 1200bps, device should reboot into bootloader\n", port)
	}

	deployer := uf2.NewDeployer(path)
	deployer.Progress = newProgressObserver("deploying")
	if c.RetryCount >= 0 {
		deployer.RetryCount = c.RetryCount
	} else if fileConfig.RetryCount > 0 {
		deployer.RetryCount = fileConfig.RetryCount
	}
	dest, err := deployer.Deploy(result.UF2Path)
	fatalIfErr(result.UF2Path, "deploy uf2", err)
	fmt.Println()
	log.Printf("Copied UF2 file to %s\n", dest)

	output := make(map[string]interface{})
	output["Convert"] = result
	output["DeployedTo"] = dest
	PrintJson(output)
	return nil
}

type ConvertCmd struct {
	Family   string `short:"f" help:"UF2 family name or number (see list-families)"`
	BaseAddr string `short:"b" help:"Override the base address (required for raw bin input)"`
	Format   string `default:"auto" enum:"auto,elf,hex,bin" help:"Input format (default: sniffed)"`
	Infile   string `arg:"" type:"existingfile" help:"ELF, Intel HEX or raw binary to convert"`
}

func (c *ConvertCmd) Run() error {
	family := resolveFamily(c.Family)
	result, err := uf2.ConvertFile(c.Infile, family, parseBaseAddr(c.BaseAddr), c.Format)
	fatalIfErr(c.Infile, "convert to uf2", err)
	log.Printf("Generated %s (%s)\n", result.UF2Path, humanize.Bytes(uint64(result.UF2Size)))
	PrintJson(result)
	return nil
}

type InspectCmd struct {
	Uf2Path string `arg:"" type:"existingfile" help:"The uf2 file to inspect"`
}

func (c *InspectCmd) Run() error {
	file, err := os.Open(c.Uf2Path)
	fatalIfErr(c.Uf2Path, "open uf2 file", err)
	defer file.Close()
	blocks, err := uf2.ReadBlocks(file)
	fatalIfErr(c.Uf2Path, "decode uf2 blocks", err)
	image, err := uf2.ReassembleImage(blocks)
	fatalIfErr(c.Uf2Path, "reassemble image", err)

	first := blocks[0]
	result := make(map[string]interface{})
	result["Blocks"] = len(blocks)
	result["FamilyID"] = fmt.Sprintf("0x%08x", first.FamilyID)
	if family, ok := familyByID(first.FamilyID); ok {
		result["Family"] = family.ShortName
	}
	result["TargetStart"] = fmt.Sprintf("0x%08x", first.TargetAddr)
	result["TargetEnd"] = fmt.Sprintf("0x%08x", blocks[len(blocks)-1].TargetAddr+blocks[len(blocks)-1].PayloadSize)
	result["ImageSize"] = len(image)
	result["MD5"] = uf2.Md5String(image)
	PrintJson(result)
	return nil
}

func familyByID(id uint32) (uf2.Family, bool) {
	for _, family := range uf2.Families() {
		if family.ID == id {
			return family, true
		}
	}
	return uf2.Family{}, false
}

// **********************************
// *       DEVICE COMMANDS          *
// **********************************

type ResetCmd struct {
	Port string `arg:"" default:"auto" help:"Serial port to touch (use 'auto' to scan for a known board)"`
}

func (c *ResetCmd) Run() error {
	port, err := uf2.ResetToBootloader(c.Port)
	fatalIfErr(c.Port, "reset device to bootloader", err)
	log.Printf("Touched %s at 1200bps, device should reboot into bootloader\n", port)
	return nil
}

// **********************************
// *       COMPOSE COMMANDS         *
// **********************************

type ComposeCmd struct {
	Script   string   `arg:"" type:"existingfile" help:"Lua compose script to run"`
	Args     []string `arg:"" optional:"" help:"Extra arguments passed to the script via arguments()"`
	Outfile  string   `short:"o" type:"path" help:"Where to write the uf2 (default: script name with .uf2)"`
	Family   string   `short:"f" help:"UF2 family (a family() call in the script wins over this)"`
	BaseAddr string   `short:"b" help:"Base address (a base_addr() call in the script wins over this)"`
	Datadir  string   `short:"d" type:"path" help:"Folder file() reads from (default: the script's folder)"`
}

func (c *ComposeCmd) Run() error {
	script, err := os.ReadFile(c.Script)
	fatalIfErr(c.Script, "read compose script", err)
	dir := c.Datadir
	if dir == "" {
		dir = filepath.Dir(c.Script)
	}
	composed, err := uf2.RunLuaComposer(string(script), c.Args, dir)
	fatalIfErr(c.Script, "run compose script", err)
	image, err := uf2.MergeSegments(composed.Segments)
	fatalIfErr(c.Script, "merge composed segments", err)

	family := resolveComposeFamily(c.Family, composed)
	base := uint32(image.Addr)
	if override := parseBaseAddr(c.BaseAddr); override != nil {
		base = *override
	}
	if composed.BaseAddr != nil {
		base = *composed.BaseAddr
	}

	outfile := c.Outfile
	if outfile == "" {
		outfile = c.Script[:len(c.Script)-len(filepath.Ext(c.Script))] + ".uf2"
	}
	file, err := os.Create(outfile)
	fatalIfErr(outfile, "create output file", err)
	defer file.Close()
	blocks, err := uf2.EncodeUF2(file, image.Data, family, base)
	fatalIfErr(outfile, "encode uf2", err)
	log.Printf("Composed %d segments into %s (%d blocks)\n", len(composed.Segments), outfile, blocks)

	result := make(map[string]interface{})
	result["UF2Path"] = outfile
	result["BaseAddr"] = fmt.Sprintf("0x%08x", base)
	result["FamilyID"] = fmt.Sprintf("0x%08x", family)
	result["ImageSize"] = len(image.Data)
	result["Blocks"] = blocks
	result["MD5"] = uf2.Md5String(image.Data)
	PrintJson(result)
	return nil
}

func resolveComposeFamily(flag string, composed *uf2.ComposeResult) uint32 {
	if composed.FamilyID != nil {
		return *composed.FamilyID
	}
	return resolveFamily(flag)
}

// **********************************
// *       INFO COMMANDS            *
// **********************************

type ListFamiliesCmd struct {
}

func (c *ListFamiliesCmd) Run() error {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Name", "ID", "Description"})
	for _, family := range uf2.Families() {
		table.Append([]string{family.ShortName, fmt.Sprintf("0x%08x", family.ID), family.Description})
	}
	table.Render()
	return nil
}

var cli struct {
	Deploy       DeployCmd        `cmd:"" help:"Generate a uf2 from a firmware file and optionally copy it to a bootloader volume"`
	Convert      ConvertCmd       `cmd:"" help:"Generate a uf2 without deploying"`
	Inspect      InspectCmd       `cmd:"" help:"Decode a uf2 and report its blocks, family and addresses"`
	Compose      ComposeCmd       `cmd:"" help:"Build a uf2 from a lua compose script"`
	Reset        ResetCmd         `cmd:"" help:"Reboot a board into its uf2 bootloader via a 1200bps serial touch"`
	ListFamilies ListFamiliesCmd  `cmd:"" help:"Show the known UF2 family presets" name:"list-families"`
	Config       string           `type:"path" help:"Config file with flag defaults (default: ./uf2deploy.toml if present)"`
	Version      kong.VersionFlag `help:"Show version information"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("uf2deploy"),
		kong.ShortUsageOnError(),
		kong.Description("Convert ELF/HEX/BIN firmware to UF2 and deploy it to mass-storage bootloaders"),
		kong.Vars{
			"version": AppVersion,
		},
	)
	loadConfig(cli.Config)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
