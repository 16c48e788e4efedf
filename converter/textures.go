package converter

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/binzume/miloconv/milo"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/blezek/tga"
	_ "github.com/ftrvxmtrx/tga"
	_ "github.com/oov/psd"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// external textures live in a "gen" directory next to the objects
const externalTextureDir = "gen"

type textureCache struct {
	textures map[string]*textureInfo
}

type textureInfo struct {
	name string
	img  image.Image
	err  error
}

func newTextureCache() *textureCache {
	return &textureCache{textures: map[string]*textureInfo{}}
}

func decodeImage(r io.ReadSeeker, name string) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil && strings.ToLower(filepath.Ext(name)) == ".tga" {
		// retry
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		img, err = tga.Decode(r)
	}
	return img, err
}

// findExternalTexture looks up the file for an external texture path: the
// first file in the gen directory whose name starts with the path's stem.
func findExternalTexture(dirPath, extPath string) (string, error) {
	dir := filepath.Join(dirPath, externalTextureDir)
	if i := strings.LastIndexByte(extPath, '/'); i >= 0 {
		dir = filepath.Join(dir, filepath.FromSlash(extPath[:i]))
		extPath = extPath[i+1:]
	}
	stem := strings.TrimSuffix(extPath, filepath.Ext(extPath))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), stem) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", &milo.MissingReferenceError{Kind: "texture file", Name: extPath}
}

func (c *textureCache) getImage(tex *milo.Tex, dirPath string) (image.Image, error) {
	if t, ok := c.textures[tex.Name()]; ok {
		return t.img, t.err
	}
	t := &textureInfo{name: tex.Name()}
	c.textures[tex.Name()] = t

	if tex.Bitmap != nil {
		t.img, t.err = decodeImage(bytes.NewReader(tex.Bitmap), tex.Name())
		return t.img, t.err
	}
	if tex.ExternalPath == "" {
		t.err = fmt.Errorf("texture %q has no image data", tex.Name())
		return nil, t.err
	}
	path, err := findExternalTexture(dirPath, tex.ExternalPath)
	if err != nil {
		t.err = err
		return nil, err
	}
	log.Printf("%s: external texture %s", tex.Name(), path)
	f, err := os.Open(path)
	if err != nil {
		t.err = err
		return nil, err
	}
	defer f.Close()
	t.img, t.err = decodeImage(f, path)
	return t.img, t.err
}

// encodeTexture scales img and encodes it as PNG. limit bounds the output
// width; 0 means unlimited.
func encodeTexture(img image.Image, scale float32, limit int) ([]byte, error) {
	rect := img.Bounds()

	if limit > 0 {
		sz := int(float32(rect.Dx()) * scale)
		if sz > limit {
			scale *= float32(limit) / float32(sz)
		}
	}

	if scale != 1.0 {
		dst := image.NewRGBA(image.Rect(0, 0, int(float32(rect.Dx())*scale), int(float32(rect.Dy())*scale)))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, rect, draw.Over, nil)
		img = dst
	}

	w := new(bytes.Buffer)
	if err := png.Encode(w, img); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// imageName is the output file name of a texture object.
func imageName(texName string) string {
	return strings.Replace(texName, ".tex", ".png", 1)
}
