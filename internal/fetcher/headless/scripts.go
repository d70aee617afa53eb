package headless

import "fmt"

// bindingName is the CDP runtime binding the page calls to report media sources.
const bindingName = "__mediaScraperReport"

// observerScript watches every current and future <video>/<audio> element and
// reports src/currentSrc through the binding. It is idempotent per document.
const observerScript = `(() => {
  if (window.__mediaScraperObserver) return true;
  window.__mediaScraperObserver = true;
  const report = (tag, src) => {
    if (!src || typeof src !== 'string') return;
    if (src.startsWith('blob:') || src.startsWith('data:')) return;
    try { window.__mediaScraperReport(JSON.stringify({ tag: tag, src: src })); } catch (e) {}
  };
  const emit = (el) => {
    report(el.tagName, el.currentSrc);
    report(el.tagName, el.src);
    el.querySelectorAll('source').forEach((s) => report(el.tagName, s.src));
  };
  const watch = (el) => {
    if (el.__mediaScraperWatched) return;
    el.__mediaScraperWatched = true;
    el.addEventListener('play', () => emit(el));
    el.addEventListener('loadstart', () => emit(el));
    emit(el);
  };
  const scan = (root) => {
    if (!root || root.nodeType !== 1) return;
    if (root.matches('video, audio')) watch(root);
    root.querySelectorAll('video, audio').forEach(watch);
  };
  document.querySelectorAll('video, audio').forEach(watch);
  new MutationObserver((mutations) => {
    for (const m of mutations) {
      if (m.type === 'attributes') {
        const t = m.target;
        const owner = t.tagName === 'SOURCE' && t.parentElement ? t.parentElement.tagName : t.tagName;
        if (owner === 'VIDEO' || owner === 'AUDIO') report(owner, t.src);
        continue;
      }
      m.addedNodes.forEach(scan);
    }
  }).observe(document, { childList: true, subtree: true, attributes: true, attributeFilter: ['src'] });
  return true;
})()`

// scanScript collects candidate URLs from media-bearing attributes and from
// video-file URLs embedded in inline scripts.
const scanScript = `(() => {
  const out = new Set();
  const attrs = ['src', 'href', 'data-src', 'data-video-url', 'data-stream-url'];
  document.querySelectorAll(attrs.map((a) => '[' + a + ']').join(',')).forEach((el) => {
    for (const a of attrs) {
      const v = el.getAttribute(a);
      if (!v) continue;
      try { out.add(new URL(v, document.baseURI).href); } catch (e) {}
    }
  });
  const re = /https?:\/\/[^\s"'<>\\]+?\.(?:mp4|webm|ogg|mov|avi|m3u8|mpd)(?:\?[^\s"'<>\\]*)?/gi;
  document.querySelectorAll('script:not([src])').forEach((s) => {
    const found = (s.textContent || '').match(re);
    if (found) found.forEach((u) => out.add(u));
  });
  return Array.from(out);
})()`

const clickPlayScript = `(() => {
  const b = document.querySelector('button.play');
  if (!b) return false;
  b.click();
  return true;
})()`

const outerHTMLScript = `document.documentElement.outerHTML`

// scrollScript scrolls by step every interval until the document height or
// maxPx is reached, resolving to the distance scrolled.
func scrollScript(step, maxPx, intervalMs int) string {
	return fmt.Sprintf(`new Promise((resolve) => {
  let total = 0;
  const timer = setInterval(() => {
    window.scrollBy(0, %d);
    total += %d;
    const height = document.body ? document.body.scrollHeight : 0;
    if (total >= height || total >= %d) {
      clearInterval(timer);
      resolve(total);
    }
  }, %d);
})`, step, step, maxPx, intervalMs)
}
