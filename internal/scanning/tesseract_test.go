package scanning

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type runCall struct {
	name string
	args []string
}

type mockRunner struct {
	stdout []byte
	stderr []byte
	err    error
	calls  []runCall
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	m.calls = append(m.calls, runCall{name: name, args: args})
	return m.stdout, m.stderr, m.err
}

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t800\t600\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t10\t10\t300\t20\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t80\t20\t96.5\tInvoice\n" +
	"5\t1\t1\t1\t1\t2\t95\t10\t60\t20\t91.0\tDate:\n" +
	"5\t1\t1\t1\t1\t3\t160\t10\t120\t20\t88.5\t13/06/2025\n" +
	"5\t1\t1\t1\t2\t1\t10\t40\t60\t20\t90.0\tTotal\n" +
	"5\t1\t1\t1\t2\t2\t75\t40\t40\t20\t-1\t \n" +
	"5\t1\t1\t1\t2\t3\t120\t40\t40\t20\t84.0\t500\n"

func writePNG(path string, w, h int) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()
	Expect(png.Encode(f, img)).To(Succeed())
}

var _ = Describe("parseTSV", func() {
	It("rebuilds the text line by line", func() {
		text, _ := parseTSV(sampleTSV)
		Expect(text).To(Equal("Invoice Date: 13/06/2025\nTotal 500"))
	})

	It("averages word confidence into [0, 1]", func() {
		_, conf := parseTSV(sampleTSV)
		Expect(conf).NotTo(BeNil())
		Expect(*conf).To(BeNumerically("~", 0.9, 0.001))
	})

	It("returns no confidence when there are no words", func() {
		text, conf := parseTSV("level\tpage_num\n")
		Expect(text).To(BeEmpty())
		Expect(conf).To(BeNil())
	})
})

var _ = Describe("Tesseract", func() {
	var (
		runner    *mockRunner
		engine    *Tesseract
		worker    Worker
		dir       string
		imagePath string
	)

	BeforeEach(func() {
		runner = &mockRunner{stdout: []byte(sampleTSV)}
		engine = NewTesseract(TesseractConfig{PSM: 6, OEM: 1, TessdataDir: "/usr/share/tessdata"}, runner)
		dir = GinkgoT().TempDir()
		imagePath = filepath.Join(dir, "invoice.png")
		writePNG(imagePath, 32, 32)

		var err error
		worker, err = engine.Acquire(context.Background())
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(worker.Close()).To(Succeed())
	})

	It("passes languages, whitelist and tuning flags", func() {
		opts := PrimaryOptions()
		rec, err := worker.Recognize(context.Background(), imagePath, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Text).To(Equal("Invoice Date: 13/06/2025\nTotal 500"))

		Expect(runner.calls).To(HaveLen(1))
		Expect(runner.calls[0].name).To(Equal("tesseract"))
		Expect(runner.calls[0].args).To(Equal([]string{
			imagePath, "stdout",
			"-l", "eng+heb+ara",
			"-c", "tessedit_char_whitelist=" + opts.CharWhitelist,
			"--psm", "6",
			"--oem", "1",
			"--tessdata-dir", "/usr/share/tessdata",
			"tsv",
		}))
	})

	It("classifies stderr on failure", func() {
		runner.err = errors.New("exit status 1")
		runner.stderr = []byte("Error in pixReadStream: Unknown format: no pix returned")

		_, err := worker.Recognize(context.Background(), imagePath, PrimaryOptions())
		var re *RecognitionError
		Expect(errors.As(err, &re)).To(BeTrue())
		Expect(re.Code).To(Equal(CodeUnsupportedImage))
	})

	It("caps long diagnostics in the error message", func() {
		runner.err = errors.New("exit status 1")
		runner.stderr = bytes.Repeat([]byte("x"), 4*maxStderr)

		_, err := worker.Recognize(context.Background(), imagePath, PrimaryOptions())
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("...(truncated)"))
		Expect(len(err.Error())).To(BeNumerically("<", 2*maxStderr))
	})

	It("reports a missing binary as a transport failure", func() {
		runner.err = exec.ErrNotFound

		_, err := worker.Recognize(context.Background(), imagePath, PrimaryOptions())
		var re *RecognitionError
		Expect(errors.As(err, &re)).To(BeTrue())
		Expect(re.Code).To(Equal(CodeTransport))
		Expect(IsFatal(err)).To(BeFalse())
	})

	When("the upload is HEIC saved with a .jpg name", func() {
		BeforeEach(func() {
			imagePath = filepath.Join(dir, "photo.jpg")
			fake := append([]byte("\x00\x00\x00\x18ftypheic"), make([]byte, 2048)...)
			Expect(os.WriteFile(imagePath, fake, 0o600)).To(Succeed())
		})

		It("fails as an unsupported image when it cannot be decoded", func() {
			_, err := worker.Recognize(context.Background(), imagePath, PrimaryOptions())
			Expect(IsFatal(err)).To(BeTrue())
			Expect(runner.calls).To(BeEmpty())
		})
	})

	It("removes its scratch directory on close", func() {
		tw := worker.(*tesseractWorker)
		Expect(tw.scratch).To(BeADirectory())
		Expect(worker.Close()).To(Succeed())
		Expect(tw.scratch).NotTo(BeAnExistingFile())
	})
})
