package main

import (
	"log"
	"path/filepath"

	"github.com/binzume/miloconv/converter"
	"github.com/binzume/miloconv/milo"
)

func importAnimations(input, outputDir string, info *milo.SystemInfo, options *converter.GLTFToMiloOption, withBones bool) error {
	doc, err := converter.LoadGLTF(input)
	if err != nil {
		return err
	}
	result, err := converter.NewGLTFToMiloConverter(options).Convert(doc)
	if err != nil {
		return err
	}

	dir := &milo.ObjectDir{Name: filepath.Base(outputDir)}
	for _, clip := range result.Clips {
		log.Printf("%s: %d frames", clip.Name(), clip.Full.SampleCount())
		dir.Add(clip)
	}
	if withBones {
		for _, b := range result.Bones {
			dir.Add(b)
		}
	}
	return dir.DumpToDirectory(outputDir, info)
}

func exportObjectDirs(inputs []string, output string, info *milo.SystemInfo, options *converter.MiloToGLTFOption) error {
	conv := converter.NewMiloToGLTFConverter(options)
	for _, input := range inputs {
		dir, err := milo.LoadDirectory(input, info)
		if err != nil {
			return err
		}
		log.Printf("%s: %d objects", dir.Name, len(dir.Entries))
		conv.AddObjectDir(dir, info, input)
	}
	doc, err := conv.Convert()
	if err != nil {
		return err
	}
	return conv.Save(doc, output)
}
