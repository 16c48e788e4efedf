package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/binzume/miloconv/converter"
	"github.com/binzume/miloconv/milo"
)

func defaultOutputFile(input string) string {
	ext := strings.ToLower(filepath.Ext(input))
	base := strings.TrimSuffix(filepath.Clean(input), filepath.Ext(input))
	if ext == ".gltf" || ext == ".glb" {
		return base + "_milo"
	}
	return base + ".glb"
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s input.glb [output_dir]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s object_dir... output.gltf|output.glb\n", os.Args[0])
		flag.PrintDefaults()
	}
	profile := flag.String("profile", "tbrb-ps3", "system profile name")
	profiles := flag.String("profiles", "", "system profile definitions (.yaml)")
	scale := flag.Float64("scale", 1, "scale of exported models")
	embed := flag.Bool("embed", false, "embed textures into .gltf")
	texScale := flag.Float64("texscale", 1, "texture scale")
	texLimit := flag.Int("texlimit", 0, "texture width limit. 0:unlimited")
	compression := flag.Uint("compression", 1, "sample compression level of imported clips")
	clipVersion := flag.Uint("clipversion", 16, "version of imported clips")
	ignore := flag.String("ignore", strings.Join(converter.DefaultIgnoreBones, ","), "bones not to animate")
	withBones := flag.Bool("bones", false, "also write bones of imported documents")
	listProfiles := flag.Bool("listprofiles", false, "print the known system profiles")
	flag.Parse()

	var custom []*milo.Profile
	if *profiles != "" {
		p, err := milo.LoadProfiles(*profiles)
		if err != nil {
			log.Fatal(err)
		}
		custom = p
	}
	if *listProfiles {
		for _, p := range append(custom, milo.DefaultProfiles...) {
			fmt.Printf("%-12s %s\n", p.Name, &p.SystemInfo)
		}
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		return
	}
	info, err := milo.FindProfile(custom, *profile)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("System:", info)

	inputs := flag.Args()
	output := ""
	if len(inputs) > 1 {
		output = inputs[len(inputs)-1]
		inputs = inputs[:len(inputs)-1]
	} else {
		output = defaultOutputFile(inputs[0])
	}

	inputExt := strings.ToLower(filepath.Ext(inputs[0]))
	if inputExt == ".gltf" || inputExt == ".glb" {
		ignoreBones := []string{}
		if *ignore != "" {
			ignoreBones = strings.Split(*ignore, ",")
		}
		level := uint32(*compression)
		err = importAnimations(inputs[0], output, info, &converter.GLTFToMiloOption{
			IgnoreBones: ignoreBones,
			Compression: &level,
			Version:     uint32(*clipVersion),
		}, *withBones)
	} else {
		err = exportObjectDirs(inputs, output, info, &converter.MiloToGLTFOption{
			EmbedTextures:          *embed,
			TextureScale:           float32(*texScale),
			TextureResolutionLimit: *texLimit,
			Scale:                  float32(*scale),
		})
	}
	if err != nil {
		log.Fatal(err)
	}
}
